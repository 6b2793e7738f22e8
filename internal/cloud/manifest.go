package cloud

// ManifestName is the object written next to the chunks of a finalized
// upload by the object-store providers.
const ManifestName = "manifest.json"

// Manifest records a finalized upload. Every Encrypted field stays an
// envelope; stores never see plaintext metadata.
type Manifest struct {
	ObjectID          string `json:"uuid"`
	Bucket            string `json:"bucket"`
	Region            string `json:"region"`
	EncryptedName     string `json:"encryptedName"`
	EncryptedSize     string `json:"encryptedSize"`
	EncryptedMime     string `json:"encryptedMime"`
	EncryptedMetadata string `json:"encryptedMetadata"`
	ChunkCount        int64  `json:"chunkCount"`
	RemovalToken      string `json:"removalToken"`
	Parent            string `json:"parent,omitempty"`
	Version           int    `json:"version"`
}

// NewManifest builds the manifest for req as stored in bucket/region with
// count chunks actually present.
func NewManifest(req FinalizeRequest, bucket, region string, count int64) Manifest {
	return Manifest{
		ObjectID:          req.ObjectID,
		Bucket:            bucket,
		Region:            region,
		EncryptedName:     req.EncryptedName,
		EncryptedSize:     req.EncryptedSize,
		EncryptedMime:     req.EncryptedMime,
		EncryptedMetadata: req.EncryptedMetadata,
		ChunkCount:        count,
		RemovalToken:      req.RemovalToken,
		Parent:            req.ParentID,
		Version:           req.Version,
	}
}
