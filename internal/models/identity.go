package models

import "fmt"

// ModelIdentity determines vector-space compatibility of stored chunks.
// It is immutable once chunks reference it.
type ModelIdentity struct {
	Name          string `json:"name" yaml:"name"`
	Version       string `json:"version" yaml:"version"`
	MaxBlockSize  int    `json:"max_block_size" yaml:"max_block_size"`
	SchemaVersion int    `json:"schema_version" yaml:"schema_version"`
}

// ModelKey is the stable string form of a ModelIdentity used to tag stored rows.
type ModelKey string

// Key returns the stable key for the identity.
func (m ModelIdentity) Key() ModelKey {
	return ModelKey(fmt.Sprintf("%s@%s/b%d/s%d", m.Name, m.Version, m.MaxBlockSize, m.SchemaVersion))
}

// SameVectorSpace reports whether vectors produced under m and other can be compared.
// The block size only changes how text is split, not the embedding space.
func (m ModelIdentity) SameVectorSpace(other ModelIdentity) bool {
	return m.Name == other.Name && m.Version == other.Version && m.SchemaVersion == other.SchemaVersion
}

// IsZero reports whether no identity has been set.
func (m ModelIdentity) IsZero() bool {
	return m == ModelIdentity{}
}

func (m ModelIdentity) String() string {
	return string(m.Key())
}

// IdentityChange classifies how a requested identity relates to the stored one.
type IdentityChange int

const (
	// IdentityUnchanged means the stored identity equals the requested one.
	IdentityUnchanged IdentityChange = iota
	// IdentityVersionBumped means the same model name with a different version or schema version.
	IdentityVersionBumped
	// IdentityBlockSizeChanged means only the chunking block size differs.
	IdentityBlockSizeChanged
	// IdentityNewModel means nothing is stored yet, or the model name differs.
	IdentityNewModel
)

func (c IdentityChange) String() string {
	switch c {
	case IdentityUnchanged:
		return "unchanged"
	case IdentityVersionBumped:
		return "version_bumped"
	case IdentityBlockSizeChanged:
		return "block_size_changed"
	case IdentityNewModel:
		return "new_model"
	default:
		return "unknown"
	}
}

// CompareIdentity classifies requested against stored. A nil stored identity is a new model.
func CompareIdentity(stored *ModelIdentity, requested ModelIdentity) IdentityChange {
	if stored == nil || stored.Name != requested.Name {
		return IdentityNewModel
	}
	if stored.Version != requested.Version || stored.SchemaVersion != requested.SchemaVersion {
		return IdentityVersionBumped
	}
	if stored.MaxBlockSize != requested.MaxBlockSize {
		return IdentityBlockSizeChanged
	}
	return IdentityUnchanged
}
