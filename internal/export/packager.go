package export

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/yieldera/datahub/internal/raster"
)

// Packager writes day-labelled bands into download artifacts.
type Packager interface {
	// PackMultiband writes all bands as pages of a single GeoTIFF.
	PackMultiband(path string, bands []*raster.Band, labels []string) error
	// PackZip writes one single-band GeoTIFF per band into a zip archive.
	PackZip(path string, bands []*raster.Band, labels []string) error
}

// FilePackager writes artifacts to the local filesystem. Writes go through a
// temp file and rename, so a crash mid-write never leaves a partial artifact
// at the download path.
type FilePackager struct{}

var _ Packager = (*FilePackager)(nil)

func (p *FilePackager) PackMultiband(path string, bands []*raster.Band, labels []string) error {
	raw, err := encodeGeoTIFF(bands, labels)
	if err != nil {
		return err
	}
	if err := writeAtomic(path, raw); err != nil {
		return err
	}
	zap.L().Info("packaged multiband geotiff",
		zap.String("path", path),
		zap.Int("bands", len(bands)),
		zap.Int("bytes", len(raw)),
	)
	return nil
}

func (p *FilePackager) PackZip(path string, bands []*raster.Band, labels []string) error {
	if len(labels) != len(bands) {
		return eris.Errorf("zip: %d labels for %d bands", len(labels), len(bands))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "zip: create artifact dir")
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return eris.Wrap(err, "zip: create archive")
	}
	defer os.Remove(tmp) //nolint:errcheck

	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestSpeed)
	})

	for i, b := range bands {
		raw, err := encodeGeoTIFF([]*raster.Band{b}, labels[i:i+1])
		if err != nil {
			zw.Close()
			f.Close()
			return err
		}
		w, err := zw.Create(labels[i] + ".tif")
		if err != nil {
			zw.Close()
			f.Close()
			return eris.Wrapf(err, "zip: add %s", labels[i])
		}
		if _, err := w.Write(raw); err != nil {
			zw.Close()
			f.Close()
			return eris.Wrapf(err, "zip: write %s", labels[i])
		}
	}

	if err := zw.Close(); err != nil {
		f.Close()
		return eris.Wrap(err, "zip: finalize archive")
	}
	if err := f.Close(); err != nil {
		return eris.Wrap(err, "zip: close archive")
	}
	if err := os.Rename(tmp, path); err != nil {
		return eris.Wrap(err, "zip: publish archive")
	}

	zap.L().Info("packaged zip archive",
		zap.String("path", path),
		zap.Int("files", len(bands)),
	)
	return nil
}

func writeAtomic(path string, raw []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "export: create artifact dir")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return eris.Wrap(err, "export: write artifact")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return eris.Wrap(err, "export: publish artifact")
	}
	return nil
}
