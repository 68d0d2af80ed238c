package executor

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"hopper/internal/classify"
	"hopper/internal/fileutil"
	"hopper/internal/planner"
	"hopper/internal/services"
)

const (
	previewBytes   = 512
	maxParsedBytes = 1 << 20
)

// textPreview cuts head to at most limit bytes without splitting a
// multi-byte rune at the end.
func textPreview(head []byte, limit int) []byte {
	if len(head) <= limit {
		return head
	}
	cut := limit
	for cut > 0 && cut > limit-utf8.UTFMax && !utf8.RuneStart(head[cut]) {
		cut--
	}
	return head[:cut]
}

// Sidecar is the descriptive metadata written by convert.
type Sidecar struct {
	SourceName   string    `json:"source_name"`
	Hash         string    `json:"hash"`
	Size         int64     `json:"size"`
	Extension    string    `json:"extension"`
	DetectedType string    `json:"detected_type"`
	Preview      string    `json:"preview,omitempty"`
	Keys         []string  `json:"top_level_keys,omitempty"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// CredentialSidecar describes credential material without its secret bytes.
type CredentialSidecar struct {
	SourceName   string            `json:"source_name"`
	Hash         string            `json:"hash"`
	Size         int64             `json:"size"`
	Extension    string            `json:"extension"`
	BlockTypes   []string          `json:"pem_block_types,omitempty"`
	Certificates []CertificateInfo `json:"certificates,omitempty"`
	GeneratedAt  time.Time         `json:"generated_at"`
}

// CertificateInfo holds the public fields of one certificate.
type CertificateInfo struct {
	Subject           string    `json:"subject"`
	Issuer            string    `json:"issuer"`
	Serial            string    `json:"serial"`
	NotBefore         time.Time `json:"not_before"`
	NotAfter          time.Time `json:"not_after"`
	FingerprintSHA256 string    `json:"fingerprint_sha256"`
	DNSNames          []string  `json:"dns_names,omitempty"`
}

// convert writes a JSON sidecar describing the file. It does not place the
// file itself; the plan's organize step does.
func (e *Executor) convert(ctx context.Context, req Request, action planner.Action) (output, error) {
	info, head, err := readHead(req.Path, maxParsedBytes)
	if err != nil {
		return output{}, err
	}
	name := filepath.Base(req.Path)
	sidecar := Sidecar{
		SourceName:   name,
		Hash:         req.Hash,
		Size:         info.Size(),
		Extension:    classify.ExtOf(name),
		DetectedType: detectedType(req.Structure, head),
		GeneratedAt:  time.Now().UTC(),
	}
	if preview := textPreview(head, previewBytes); utf8.Valid(preview) && !strings.ContainsRune(string(preview), 0) {
		sidecar.Preview = string(preview)
	}
	if int64(len(head)) == info.Size() {
		sidecar.Keys = classify.TopLevelKeys(head)
	}
	dest, err := e.writeSidecar(ctx, action.Target, name, sidecar)
	if err != nil {
		return output{}, err
	}
	return output{placements: []placement{{action: planner.ActionConvert, path: dest}}}, nil
}

// convertMetadata records PEM block types and public certificate fields.
// Key material is read but never copied into the library or the ledger.
func (e *Executor) convertMetadata(ctx context.Context, req Request, action planner.Action) (output, error) {
	info, data, err := readHead(req.Path, maxParsedBytes)
	if err != nil {
		return output{}, err
	}
	name := filepath.Base(req.Path)
	sidecar := CredentialSidecar{
		SourceName:  name,
		Hash:        req.Hash,
		Size:        info.Size(),
		Extension:   classify.ExtOf(name),
		GeneratedAt: time.Now().UTC(),
	}
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		sidecar.BlockTypes = append(sidecar.BlockTypes, block.Type)
		if block.Type == "CERTIFICATE" {
			if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
				sidecar.Certificates = append(sidecar.Certificates, certificateInfo(cert))
			}
		}
	}
	if len(sidecar.BlockTypes) == 0 {
		// DER-encoded .cer/.crt
		if cert, err := x509.ParseCertificate(data); err == nil {
			sidecar.Certificates = append(sidecar.Certificates, certificateInfo(cert))
		}
	}
	dest, err := e.writeSidecar(ctx, action.Target, name, sidecar)
	if err != nil {
		return output{}, err
	}
	return output{placements: []placement{{action: planner.ActionConvertMetadata, path: dest}}}, nil
}

func certificateInfo(cert *x509.Certificate) CertificateInfo {
	sum := sha256.Sum256(cert.Raw)
	return CertificateInfo{
		Subject:           cert.Subject.String(),
		Issuer:            cert.Issuer.String(),
		Serial:            cert.SerialNumber.String(),
		NotBefore:         cert.NotBefore.UTC(),
		NotAfter:          cert.NotAfter.UTC(),
		FingerprintSHA256: hex.EncodeToString(sum[:]),
		DNSNames:          cert.DNSNames,
	}
}

func (e *Executor) writeSidecar(ctx context.Context, target, sourceName string, value any) (string, error) {
	dir, err := e.libraryPath(target)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", services.Wrap(services.ErrExecutionFailure, "convert", "encode sidecar", sourceName, err)
	}
	release, err := e.locks.Acquire(ctx, dir)
	if err != nil {
		return "", err
	}
	defer release()

	path, file, err := fileutil.ReserveUnique(dir, fileutil.SanitizeSegment(sourceName)+".json")
	if err != nil {
		return "", services.Wrap(services.ErrIO, "convert", "reserve sidecar", dir, err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return "", services.Wrap(services.ErrIO, "convert", "write sidecar", path, err)
	}
	if err := file.Close(); err != nil {
		return "", services.Wrap(services.ErrIO, "convert", "close sidecar", path, err)
	}
	return path, nil
}

func readHead(path string, limit int64) (os.FileInfo, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, services.Wrap(services.ErrIO, "convert", "open", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, nil, services.Wrap(services.ErrIO, "convert", "stat", path, err)
	}
	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return nil, nil, services.Wrap(services.ErrIO, "convert", "read", path, err)
	}
	return info, data, nil
}

func detectedType(structure classify.Structure, head []byte) string {
	if structure != classify.StructureNone {
		return string(structure)
	}
	if s := classify.DetectStructure(head); s != classify.StructureNone {
		return string(s)
	}
	if len(head) == 0 {
		return "empty"
	}
	if utf8.Valid(head) {
		return "text"
	}
	return "binary"
}
