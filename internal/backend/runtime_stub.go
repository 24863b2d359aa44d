//go:build !govips || !cgo

package backend

func Startup() error {
	return nil
}

func Shutdown() {}

func newEngine() rasterEngine {
	return imagingEngine{}
}
