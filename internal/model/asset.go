// Package model loads BIM model assets into scene subtrees and serves
// per-element metadata records.
package model

import (
	"errors"
	"net/url"
	"path"
	"strings"
)

var (
	// ErrAssetUnavailable reports a network or storage failure while fetching an asset.
	ErrAssetUnavailable = errors.New("model: asset unavailable")
	// ErrParseFailure reports a malformed or unsupported asset.
	ErrParseFailure = errors.New("model: parse failure")
	// ErrElementNotFound reports an element id absent from the installed model.
	ErrElementNotFound = errors.New("model: element not found")
	// ErrInvalidPatch reports a patch carrying an unknown status.
	ErrInvalidPatch = errors.New("model: invalid patch")
)

// Format is a model asset encoding.
type Format string

const (
	FormatGLB  Format = "glb"
	FormatGLTF Format = "gltf"
	// FormatAuto sniffs the encoding from the asset bytes.
	FormatAuto Format = ""
)

// Supported reports whether the loader can parse f.
func (f Format) Supported() bool {
	return f == FormatGLB || f == FormatGLTF || f == FormatAuto
}

// Asset is an immutable model descriptor.
type Asset struct {
	SourceURL string
	Format    Format
}

// NewAsset infers the format from the URL path extension.
// URLs without an extension are sniffed at load time.
func NewAsset(sourceURL string) Asset {
	p := sourceURL
	if u, err := url.Parse(sourceURL); err == nil && u.Path != "" {
		p = u.Path
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(p)), ".")
	return Asset{SourceURL: sourceURL, Format: Format(ext)}
}

// Name returns the last path segment of the source URL.
func (a Asset) Name() string {
	p := a.SourceURL
	if u, err := url.Parse(a.SourceURL); err == nil && u.Path != "" {
		p = u.Path
	}
	return path.Base(p)
}
