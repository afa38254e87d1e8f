package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cncaiprojem/projem-sub004/infrastructure/errors"
	"github.com/cncaiprojem/projem-sub004/infrastructure/logging"
	"github.com/cncaiprojem/projem-sub004/infrastructure/objectstore"
)

// Request describes a single upload job.
type Request struct {
	JobID         string
	SourceKey     string // object storage key of the raw upload
	Filename      string
	DeclaredUnits string
	RepairMesh    bool
	MergeDups     bool
	Center        bool
	ExportSTEP    bool
	ExportSTL     bool
	ExportDXF     bool
	ExportGLBPreview bool
}

// Result is returned to the caller once the pipeline completes.
type Result struct {
	JobID          string
	Format         Format
	NativeKey      string
	STEPKey        string
	STLKey         string
	DXFKey         string
	PreviewKey     string
	SHA256         string
	Metrics        NormalizeMetrics
	Warnings       []string
	Duration       time.Duration
}

// Pipeline runs the upload flow: download, detect format, load, normalize,
// validate, export the normalized native file, upload it and hash it. The
// ExportSTEP, ExportSTL, ExportDXF and ExportGLBPreview request flags are not
// read, so NativeKey is the only output key a Result carries.
type Pipeline struct {
	store   objectstore.Store
	workDir string
	log     *logging.Logger
}

// New constructs a Pipeline rooted at workDir for scoped temporary files.
func New(store objectstore.Store, workDir string, log *logging.Logger) *Pipeline {
	return &Pipeline{store: store, workDir: workDir, log: log}
}

// Run executes the pipeline for req.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	scratch, err := os.MkdirTemp(p.workDir, "upload-"+req.JobID+"-")
	if err != nil {
		return nil, errors.Internal("failed to create scoped temp directory", err)
	}
	defer os.RemoveAll(scratch)

	srcPath := filepath.Join(scratch, sanitizeFilename(req.Filename))
	if err := p.download(ctx, req.SourceKey, srcPath); err != nil {
		return nil, err
	}

	head, err := readHead(srcPath, 512)
	if err != nil {
		return nil, errors.GeometryInvalid(err.Error())
	}

	format := DetectFormat(req.Filename, head)
	handler, ok := HandlerFor(format)
	if !ok {
		return nil, errors.UnsupportedFormat(string(format))
	}

	doc, err := handler.Load(ctx, srcPath)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	cfg := NormalizeConfig{
		DeclaredUnits:   req.DeclaredUnits,
		TargetUnits:     "mm",
		Center:          req.Center,
		MergeDuplicates: req.MergeDups,
		RepairMesh:      req.RepairMesh,
	}
	metrics, err := handler.Normalize(ctx, doc, cfg, srcPath)
	if err != nil {
		return nil, err
	}

	warnings, err := handler.Validate(ctx, doc)
	if err != nil {
		return nil, err
	}

	nativeOut := filepath.Join(scratch, "normalized"+filepath.Ext(srcPath))
	if err := handler.Export(ctx, doc, nativeOut); err != nil {
		return nil, err
	}

	res := &Result{JobID: req.JobID, Format: format, Metrics: metrics, Warnings: warnings}

	nativeKey := fmt.Sprintf("documents/%s/native%s", req.JobID, filepath.Ext(srcPath))
	if err := p.upload(ctx, nativeKey, nativeOut); err != nil {
		return nil, err
	}
	res.NativeKey = nativeKey

	sum, err := sha256File(nativeOut)
	if err != nil {
		return nil, errors.Internal("failed to hash normalized output", err)
	}
	res.SHA256 = sum

	res.Duration = time.Since(start)

	if p.log != nil {
		p.log.LogDocumentOp(ctx, req.JobID, "upload_normalize", nil)
	}
	return res, nil
}

func (p *Pipeline) download(ctx context.Context, key, destPath string) error {
	rc, err := p.store.DownloadStream(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.Create(destPath)
	if err != nil {
		return errors.Internal("failed to create scratch file", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, rc); err != nil {
		return errors.S3DownloadFailed(err)
	}
	return nil
}

func (p *Pipeline) upload(ctx context.Context, key, srcPath string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return errors.Internal("failed to open export for upload", err)
	}
	defer f.Close()

	return p.store.UploadStream(ctx, key, f, "application/octet-stream")
}

func readHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:read], nil
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "upload.bin"
	}
	return base
}
