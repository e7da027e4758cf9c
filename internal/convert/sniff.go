// Libretorio - Personal Media Library Server
// Copyright 2026 Rigo85
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rigo85/libretorio

package convert

import (
	"bytes"
	"io"
	"os"
	"strings"
)

// Kind identifies a concrete archive format (or the directory-of-images
// pseudo-format) that the gateway knows how to extract.
type Kind string

const (
	KindZIP        Kind = "cbz"
	KindRAR        Kind = "cbr"
	Kind7Z         Kind = "cb7"
	KindComicManga Kind = "comic-manga"
	KindUnknown    Kind = ""
)

// magicNumbers maps archive file signatures to their kind.
var magicNumbers = []struct {
	prefix []byte
	kind   Kind
}{
	{[]byte{0x50, 0x4B, 0x03, 0x04}, KindZIP}, // ZIP
	{[]byte{0x52, 0x61, 0x72, 0x21}, KindRAR}, // RAR (RAR3)
	{[]byte{0x37, 0x7A, 0xBC, 0xAF}, Kind7Z},  // 7-Zip
}

// SniffKind classifies the first bytes of a buffer by archive signature.
func SniffKind(header []byte) Kind {
	for _, m := range magicNumbers {
		if bytes.HasPrefix(header, m.prefix) {
			return m.kind
		}
	}
	return KindUnknown
}

// DetectKind reads the file's leading magic bytes and classifies them.
// Unreadable files and unrecognized signatures yield KindUnknown.
func DetectKind(path string) Kind {
	if strings.TrimSpace(path) == "" {
		return KindUnknown
	}

	f, err := os.Open(path)
	if err != nil {
		return KindUnknown
	}
	defer f.Close()

	header := make([]byte, 4)
	if _, err := io.ReadFull(f, header); err != nil {
		return KindUnknown
	}

	return SniffKind(header)
}

// KindFromHint resolves a concrete kind from the client's fileKind hint.
// The generic "FILE" hint triggers signature sniffing; other hints name the
// kind directly.
func KindFromHint(fileKind, filePath string) Kind {
	switch strings.ToLower(fileKind) {
	case "file":
		return DetectKind(filePath)
	case "comic-manga":
		return KindComicManga
	case "cbz":
		return KindZIP
	case "cbr":
		return KindRAR
	case "cb7":
		return Kind7Z
	default:
		return KindUnknown
	}
}
