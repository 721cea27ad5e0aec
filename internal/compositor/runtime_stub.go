//go:build !govips || !cgo

package compositor

func Startup() error {
	return nil
}

func Shutdown() {}

func newRenderer() (Renderer, error) {
	return ImagingRenderer{}, nil
}
