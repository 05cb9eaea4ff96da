package crypto

// EncryptedRecord is the unit of persistence for file contents, index
// blobs and audit frames: a version byte, the GCM IV, and ciphertext.
type EncryptedRecord struct {
	Version    uint8
	IV         []byte
	Ciphertext []byte
}

// Marshal serializes the record as [version][iv][ciphertext].
func (r *EncryptedRecord) Marshal() []byte {
	out := make([]byte, 1+len(r.IV)+len(r.Ciphertext))
	out[0] = r.Version
	copy(out[1:], r.IV)
	copy(out[1+len(r.IV):], r.Ciphertext)
	return out
}

// UnmarshalRecord parses a serialized EncryptedRecord. The IV length is
// fixed by the format version; only version 1 exists.
func UnmarshalRecord(data []byte) (*EncryptedRecord, error) {
	if len(data) < 1+IVSize+TagSize {
		return nil, ErrInvalidRecord
	}
	if data[0] != RecordVersion {
		return nil, ErrInvalidRecord
	}

	iv := make([]byte, IVSize)
	copy(iv, data[1:1+IVSize])
	ciphertext := make([]byte, len(data)-1-IVSize)
	copy(ciphertext, data[1+IVSize:])

	return &EncryptedRecord{
		Version:    data[0],
		IV:         iv,
		Ciphertext: ciphertext,
	}, nil
}
