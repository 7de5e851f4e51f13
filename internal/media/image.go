package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG decoding

	"github.com/lmoretti/filo/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

// processImage downscales images above the compression threshold to fit the
// configured bounding box and re-encodes them as JPEG at the configured
// quality. Smaller images pass through byte-identical.
func (p *Pipeline) processImage(f File) (File, error) {
	if f.Size <= p.cfg.ImageCompressThreshold {
		return f, nil
	}

	src, _, err := image.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return File{}, &domain.ProcessingError{Kind: domain.KindImage, Err: fmt.Errorf("decode: %w", err)}
	}

	bounds := src.Bounds()
	w, h := fitBox(bounds.Dx(), bounds.Dy(), p.cfg.ImageMaxWidth, p.cfg.ImageMaxHeight)

	out := src
	if w != bounds.Dx() || h != bounds.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: p.cfg.ImageQuality}); err != nil {
		return File{}, &domain.ProcessingError{Kind: domain.KindImage, Err: fmt.Errorf("encode: %w", err)}
	}

	p.logger.Info("image downscaled",
		zap.String("name", f.Name),
		zap.Int64("original_bytes", f.Size),
		zap.Int("processed_bytes", buf.Len()),
		zap.Int("width", w),
		zap.Int("height", h),
	)

	return File{
		Name:        f.Name,
		ContentType: "image/jpeg",
		Size:        int64(buf.Len()),
		Data:        buf.Bytes(),
	}, nil
}

// fitBox scales (w, h) down to fit inside (maxW, maxH), preserving aspect
// ratio. Dimensions already inside the box are returned unchanged.
func fitBox(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	scaleW := float64(maxW) / float64(w)
	scaleH := float64(maxH) / float64(h)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}
	nw := int(float64(w) * scale)
	nh := int(float64(h) * scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}
