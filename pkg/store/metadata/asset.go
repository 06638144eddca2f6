package metadata

import (
	"slices"

	"github.com/marmos91/dittovault/pkg/apierror"
	"github.com/marmos91/dittovault/pkg/identity"
	"github.com/marmos91/dittovault/pkg/store/chunk"
)

// AssetID identifies an asset. Ids are allocated from a store-wide counter
// starting at 1 and are never reused.
type AssetID = uint32

// Kind is the variant of an asset.
type Kind string

const (
	KindFolder    Kind = "folder"
	KindFile      Kind = "file"
	KindTokenized Kind = "tokenized"
)

// TokenRef points at a token in a collection.
type TokenRef struct {
	Collection identity.Principal `json:"collection"`
	Index      uint64             `json:"index"`
}

// AssetType is a tagged union over {Folder, File, TokenizedAsset(TokenRef)}.
// Token is set if and only if Kind is KindTokenized.
type AssetType struct {
	Kind  Kind      `json:"kind"`
	Token *TokenRef `json:"token,omitempty"`
}

// Folder returns the folder asset type.
func Folder() AssetType { return AssetType{Kind: KindFolder} }

// File returns the file asset type.
func File() AssetType { return AssetType{Kind: KindFile} }

// Tokenized returns the tokenized asset type for ref.
func Tokenized(ref TokenRef) AssetType {
	return AssetType{Kind: KindTokenized, Token: &ref}
}

// Validate checks that the tag and payload agree.
func (t AssetType) Validate() error {
	switch t.Kind {
	case KindFolder, KindFile:
		if t.Token != nil {
			return apierror.NewInvalidArgument("asset type %s cannot carry a token reference", t.Kind)
		}
	case KindTokenized:
		if t.Token == nil {
			return apierror.NewInvalidArgument("tokenized asset requires a token reference")
		}
	default:
		return apierror.NewInvalidArgument("unknown asset kind %q", t.Kind)
	}
	return nil
}

// allowsExtension reports whether assets of this type keep an extension.
func (t AssetType) allowsExtension() bool {
	switch t.Kind {
	case KindFile:
		return true
	case KindFolder, KindTokenized:
		return false
	default:
		return false
	}
}

// Privacy is the visibility of an asset.
type Privacy string

const (
	Private Privacy = "private"
	Public  Privacy = "public"
)

// Settings holds per-asset presentation settings.
type Settings struct {
	Privacy Privacy `json:"privacy"`
	URL     *string `json:"url,omitempty"`
}

func (s Settings) normalized() (Settings, error) {
	switch s.Privacy {
	case "":
		s.Privacy = Private
	case Private, Public:
	default:
		return s, apierror.NewInvalidArgument("unknown privacy %q", s.Privacy)
	}
	if s.URL != nil {
		url := *s.URL
		s.URL = &url
	}
	return s, nil
}

// Asset is a node in an owner's tree.
//
// CreatedAt and UpdatedAt are nanosecond timestamps from the store's clock.
type Asset struct {
	ID         AssetID            `json:"id"`
	Owner      identity.Principal `json:"owner"`
	ParentID   *AssetID           `json:"parent_id,omitempty"`
	Type       AssetType          `json:"type"`
	Name       string             `json:"name"`
	IsFavorite bool               `json:"is_favorite"`
	Size       uint64             `json:"size"`
	Extension  string             `json:"extension"`
	MimeType   string             `json:"mime_type"`
	CreatedAt  uint64             `json:"created_at"`
	UpdatedAt  uint64             `json:"updated_at"`
	Chunks     []chunk.Ref        `json:"chunks,omitempty"`
	Settings   Settings           `json:"settings"`
}

// Clone returns a deep copy of the asset.
func (a *Asset) Clone() Asset {
	c := *a
	if a.ParentID != nil {
		parent := *a.ParentID
		c.ParentID = &parent
	}
	if a.Type.Token != nil {
		token := *a.Type.Token
		c.Type.Token = &token
	}
	if a.Settings.URL != nil {
		url := *a.Settings.URL
		c.Settings.URL = &url
	}
	c.Chunks = slices.Clone(a.Chunks)
	return c
}

// Draft is the input of Upsert. A nil ID, or an ID that does not resolve to
// one of the caller's assets, creates a new asset.
type Draft struct {
	ID        *AssetID
	ParentID  *AssetID
	Type      AssetType
	Name      string
	Size      uint64
	Extension string
	MimeType  string
	Chunks    []chunk.Ref
	Settings  Settings
}

// Patch is the input of Edit. ParentID is always applied, including nil.
// The other pointer fields are applied only when set.
type Patch struct {
	ID         AssetID
	ParentID   *AssetID
	Name       *string
	IsFavorite *bool
	Extension  *string
}

// Move reparents one asset.
type Move struct {
	ID          AssetID
	NewParentID *AssetID
}
