package face

import (
	"image"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/nativescan/internal/mempool"
	"github.com/MeKo-Tech/nativescan/internal/onnx"
)

// orient rotates img clockwise by rotation degrees so the face is upright.
// Other values than 90, 180 and 270 leave img unchanged.
func orient(img image.Image, rotation int) image.Image {
	switch ((rotation % 360) + 360) % 360 {
	case 90:
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// Preprocess resizes img to w x h and packs it as a [1,3,h,w] tensor with
// every channel mapped through (p-127)/128. The tensor data comes from
// mempool and may be handed back with mempool.PutFloat32 after inference.
func Preprocess(img image.Image, w, h int) (onnx.Tensor, error) {
	resized := imaging.Resize(img, w, h, imaging.Linear)
	plane := w * h
	data := mempool.GetFloat32(3 * plane)
	for y := 0; y < h; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < w; x++ {
			i := y*w + x
			p := row[x*4 : x*4+3]
			data[i] = (float32(p[0]) - 127) / 128
			data[plane+i] = (float32(p[1]) - 127) / 128
			data[2*plane+i] = (float32(p[2]) - 127) / 128
		}
	}
	return onnx.NewImageTensor(data, 3, h, w)
}
