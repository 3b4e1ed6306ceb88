package decoder

import (
	"errors"

	"notes-sync-indexer/internal/domain"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	documentVersionField = 2

	versionSerializationField = 1
	versionMinimumField       = 2
	versionDataField          = 3
)

// Version is one entry of the append-only versioned document.
type Version struct {
	SerializationVersion    uint32
	MinimumSupportedVersion uint32
	Data                    []byte
}

// ParseDocument returns the versions of a document in document order.
func ParseDocument(b []byte) ([]Version, error) {
	var versions []Version
	err := forEachField(b, func(f field) error {
		if f.num != documentVersionField {
			return nil
		}
		if err := f.expect(protowire.BytesType); err != nil {
			return err
		}
		v, err := parseVersion(f.bytes)
		if err != nil {
			return err
		}
		versions = append(versions, v)
		return nil
	})
	if err != nil {
		return nil, &domain.DecodeError{Stage: "document", Err: err}
	}
	return versions, nil
}

// LatestVersion returns the payload of the last version. Earlier versions
// are superseded, never merged.
func LatestVersion(b []byte) ([]byte, error) {
	versions, err := ParseDocument(b)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, &domain.DecodeError{Stage: "document", Err: errors.New("document has no versions")}
	}
	return versions[len(versions)-1].Data, nil
}

func parseVersion(b []byte) (Version, error) {
	var v Version
	err := forEachField(b, func(f field) error {
		switch f.num {
		case versionSerializationField:
			if err := f.expect(protowire.VarintType); err != nil {
				return err
			}
			v.SerializationVersion = uint32(f.varint)
		case versionMinimumField:
			if err := f.expect(protowire.VarintType); err != nil {
				return err
			}
			v.MinimumSupportedVersion = uint32(f.varint)
		case versionDataField:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			v.Data = f.bytes
		}
		return nil
	})
	return v, err
}
