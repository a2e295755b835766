package features

import (
	"math"
)

// FileFeatures is the typed form of a raw file-transfer feature
// mapping with per-field defaults applied.
type FileFeatures struct {
	FileSize           float64
	FileEntropy        float64
	FileTypeRisk       float64
	EncryptionStrength float64
	UploadDuration     float64
	CompressionRatio   float64
	MetadataAnomaly    float64
	TransferSpeed      float64
	PacketLoss         float64
	ConcurrentUploads  float64
}

// EnrichedFile is a FileFeatures record plus the derived signals.
type EnrichedFile struct {
	FileFeatures

	SizeLog         float64
	EntropyPerByte  float64
	SpeedPerMB      float64
	RiskScore       float64
	SuspiciousRatio float64
	HighEntropy     float64
	LowEntropy      float64
	SuspiciousSize  float64
}

// ParseFile converts an arbitrary raw mapping into a typed file record.
// Same contract as ParseHandshake: defaults for missing keys, ignored
// unknown keys, errors for malformed values.
func ParseFile(raw map[string]any) (*FileFeatures, error) {
	f := &FileFeatures{}
	var err error

	if f.FileSize, err = numberField(raw, "file_size", 0); err != nil {
		return nil, err
	}
	if f.FileEntropy, err = numberField(raw, "file_entropy", 0); err != nil {
		return nil, err
	}
	if f.FileTypeRisk, err = numberField(raw, "file_type_risk", 0.2); err != nil {
		return nil, err
	}
	if f.EncryptionStrength, err = numberField(raw, "encryption_strength", 256); err != nil {
		return nil, err
	}
	if f.UploadDuration, err = numberField(raw, "upload_duration", 1.0); err != nil {
		return nil, err
	}
	if f.CompressionRatio, err = numberField(raw, "compression_ratio", 1.0); err != nil {
		return nil, err
	}
	if f.MetadataAnomaly, err = numberField(raw, "metadata_anomaly", 0); err != nil {
		return nil, err
	}
	if f.TransferSpeed, err = numberField(raw, "transfer_speed", 1000); err != nil {
		return nil, err
	}
	if f.PacketLoss, err = numberField(raw, "packet_loss", 0.0); err != nil {
		return nil, err
	}
	if f.ConcurrentUploads, err = numberField(raw, "concurrent_uploads", 1); err != nil {
		return nil, err
	}

	return f, nil
}

// Enrich computes the derived file-transfer signals. Pure and total.
func (f *FileFeatures) Enrich() *EnrichedFile {
	e := &EnrichedFile{FileFeatures: *f}

	e.SizeLog = math.Log1p(f.FileSize)
	e.EntropyPerByte = f.FileEntropy / (f.FileSize + 1)
	e.SpeedPerMB = f.TransferSpeed / (f.FileSize/(1024*1024) + 1)

	// Weighted composite of independent risk indicators. Weights match
	// what the classifier was trained against.
	e.RiskScore = 0.3*f.FileTypeRisk +
		0.3*(f.FileEntropy/8) +
		0.2*(f.MetadataAnomaly/10) +
		0.2*math.Min(f.PacketLoss, 1)

	e.SuspiciousRatio = (f.FileEntropy/8 + f.MetadataAnomaly/10) / 2

	e.HighEntropy = boolToFloat(f.FileEntropy > 7.5)
	e.LowEntropy = boolToFloat(f.FileEntropy < 3.0)
	e.SuspiciousSize = boolToFloat(f.FileSize > 50*1024*1024)

	return e
}

// Fields returns the enriched record as a name-to-value map.
func (e *EnrichedFile) Fields() map[string]float64 {
	return map[string]float64{
		"file_size":           e.FileSize,
		"file_entropy":        e.FileEntropy,
		"file_type_risk":      e.FileTypeRisk,
		"encryption_strength": e.EncryptionStrength,
		"upload_duration":     e.UploadDuration,
		"compression_ratio":   e.CompressionRatio,
		"metadata_anomaly":    e.MetadataAnomaly,
		"transfer_speed":      e.TransferSpeed,
		"packet_loss":         e.PacketLoss,
		"concurrent_uploads":  e.ConcurrentUploads,
		"size_log":            e.SizeLog,
		"entropy_per_byte":    e.EntropyPerByte,
		"speed_per_mb":        e.SpeedPerMB,
		"risk_score":          e.RiskScore,
		"suspicious_ratio":    e.SuspiciousRatio,
		"high_entropy":        e.HighEntropy,
		"low_entropy":         e.LowEntropy,
		"suspicious_size":     e.SuspiciousSize,
	}
}

// Vector builds the fixed-order feature vector for the file classifier.
func (e *EnrichedFile) Vector() []float64 {
	return BuildVector(e.Fields(), FileSchema)
}
