// Command converter re-encodes one image per invocation. It reads a single
// base64 encoded JSON line from stdin:
//
//	{"in_path": "...", "in_type": "png", "out_path": "...", "out_type": "jpeg"}
//
// and exits 0 once out_path has been written. Diagnostics go to stderr.
package main

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	exitFailed     = 1
	exitBadRequest = 2
)

type request struct {
	InPath  string `json:"in_path"`
	InType  string `json:"in_type"`
	OutPath string `json:"out_path"`
	OutType string `json:"out_type"`
}

func main() {
	req, err := readRequest(os.Stdin)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad request:", err)
		os.Exit(exitBadRequest)
	}
	if err := convert(req); err != nil {
		fmt.Fprintln(os.Stderr, "conversion failed:", err)
		os.Exit(exitFailed)
	}
	fmt.Printf("wrote %s (%s)\n", req.OutPath, req.OutType)
}

func readRequest(r io.Reader) (request, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return request{}, fmt.Errorf("read stdin: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(line))
	if err != nil {
		return request{}, fmt.Errorf("decode base64: %w", err)
	}
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		return request{}, fmt.Errorf("decode json: %w", err)
	}
	if req.InPath == "" || req.OutPath == "" {
		return request{}, errors.New("in_path and out_path are required")
	}
	return req, nil
}

func convert(req request) error {
	in, err := os.Open(req.InPath)
	if err != nil {
		return err
	}
	defer in.Close()

	img, format, err := image.Decode(in)
	if err != nil {
		return fmt.Errorf("decode %s: %w", req.InType, err)
	}
	if req.InType != "" && format != req.InType {
		return fmt.Errorf("input is %s, not %s", format, req.InType)
	}

	tmp, err := os.CreateTemp(filepath.Dir(req.OutPath), ".convert-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := encode(tmp, img, req.OutType); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), req.OutPath)
}

func encode(w io.Writer, img image.Image, typ string) error {
	switch typ {
	case "png":
		return png.Encode(w, img)
	case "jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
	case "gif":
		return gif.Encode(w, img, nil)
	case "bmp":
		return bmp.Encode(w, img)
	case "tiff":
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("unsupported output type %q", typ)
	}
}
