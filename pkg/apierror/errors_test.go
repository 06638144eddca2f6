package apierror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsCode_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("get chunk: %w", NewNotFound(MsgChunksNotFound))

	assert.True(t, IsCode(err, NotFound))
	assert.False(t, IsCode(err, Unauthorized))
	assert.False(t, IsCode(errors.New("plain"), NotFound))
}

func TestErrorsIs_MatchesByCode(t *testing.T) {
	err := NewAlreadyExists(MsgUserExists)
	assert.ErrorIs(t, err, &Error{Code: AlreadyExists})
	assert.NotErrorIs(t, err, &Error{Code: NotFound})
}

func TestProvisioningFailed_CarriesPlatformDetails(t *testing.T) {
	err := NewProvisioningFailed("allocate", 4, "out of capacity")

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	require.NotNil(t, apiErr.Provisioning)
	assert.Equal(t, "allocate", apiErr.Provisioning.Phase)
	assert.Equal(t, 4, apiErr.Provisioning.PlatformCode)
	assert.Equal(t, "out of capacity", apiErr.Provisioning.PlatformMessage)
	assert.Contains(t, err.Error(), "platform code 4")
}

func TestError_Message(t *testing.T) {
	assert.Equal(t, "Unauthorized", (&Error{Code: Unauthorized}).Error())
	assert.Equal(t, "NotFound: USER_NOT_FOUND", NewNotFound(MsgUserNotFound).Error())
	assert.Equal(t, "InvalidArgument: bad id 7", NewInvalidArgument("bad id %d", 7).Error())
}
