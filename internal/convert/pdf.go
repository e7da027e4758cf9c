// Libretorio - Personal Media Library Server
// Copyright 2026 Rigo85
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rigo85/libretorio

package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// pdfConverter produces dest (a PDF) from src using an external tool.
type pdfConverter func(ctx context.Context, src, dest string) error

// convertWithCalibre handles ebook-ish formats via calibre's ebook-convert.
func convertWithCalibre(ctx context.Context, src, dest string) error {
	return runCommand(ctx, "ebook-convert", src, dest)
}

// convertWithOffice handles office documents via headless libreoffice,
// which names its output after the source file, so the result is renamed
// into place afterwards.
func convertWithOffice(ctx context.Context, src, dest string) error {
	outDir := filepath.Dir(dest)
	if err := runCommand(ctx, "libreoffice", "--headless", "--convert-to", "pdf", "--outdir", outDir, src); err != nil {
		return err
	}

	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	produced := filepath.Join(outDir, base+".pdf")
	if produced == dest {
		return nil
	}
	if err := os.Rename(produced, dest); err != nil {
		return fmt.Errorf("rename converted pdf: %w", err)
	}
	return nil
}

// convertWithHtmldoc handles HTML pages via htmldoc.
func convertWithHtmldoc(ctx context.Context, src, dest string) error {
	return runCommand(ctx, "htmldoc", "--webpage", "--quiet", "-f", dest, src)
}

// pdfConverters dispatches by lower-cased source file extension.
var pdfConverters = map[string]pdfConverter{
	"epub": convertWithCalibre,
	"txt":  convertWithCalibre,
	"md":   convertWithCalibre,
	"lit":  convertWithCalibre,
	"doc":  convertWithOffice,
	"docx": convertWithOffice,
	"ppt":  convertWithOffice,
	"pptx": convertWithOffice,
	"xls":  convertWithOffice,
	"xlsx": convertWithOffice,
	"rtf":  convertWithOffice,
	"html": convertWithHtmldoc,
	"htm":  convertWithHtmldoc,
}

// pdfConverterFor returns the converter for a source path's extension.
func pdfConverterFor(path string) (pdfConverter, bool) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	conv, ok := pdfConverters[ext]
	return conv, ok
}
