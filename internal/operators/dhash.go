package operators

import "image"

// dHash computes a 64-bit difference hash: the image is sampled on a 9x8
// grid and each bit records whether a cell is brighter than its right
// neighbor.
func dHash(img image.Image) uint64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return 0
	}

	var cells [8][9]float64
	for cy := range 8 {
		for cx := range 9 {
			x := b.Min.X + (cx*w+w/2)/9
			y := b.Min.Y + (cy*h+h/2)/8
			r, g, bb, _ := img.At(x, y).RGBA()
			cells[cy][cx] = 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(bb)
		}
	}

	var hash uint64
	for cy := range 8 {
		for cx := range 8 {
			hash <<= 1
			if cells[cy][cx] > cells[cy][cx+1] {
				hash |= 1
			}
		}
	}
	return hash
}
