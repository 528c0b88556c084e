package impl

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tas-context-tailor/services"
)

func TestExtractMarkdownHeadings(t *testing.T) {
	e := NewTextExtractor()

	src := "# Install\n\nRun the installer.\n\n## Configure\n\nEdit the config file."
	res, err := e.Extract("guide.md", "text/markdown", []byte(src))
	require.NoError(t, err)
	assert.Equal(t, src, res.Text)
	assert.True(t, res.Hints.HasHeadings)

	flat, err := e.Extract("notes.md", "text/markdown", []byte("just prose, no structure at all"))
	require.NoError(t, err)
	assert.False(t, flat.Hints.HasHeadings)
}

func TestExtractPlainText(t *testing.T) {
	e := NewTextExtractor()

	res, err := e.Extract("readme.txt", "text/plain", []byte("plain contents"))
	require.NoError(t, err)
	assert.Equal(t, "plain contents", res.Text)
	assert.False(t, res.Hints.HasHeadings)
	assert.Empty(t, res.Hints.CodeLanguage)
}

func TestExtractCodeFileSetsLanguageHint(t *testing.T) {
	e := NewTextExtractor()

	res, err := e.Extract("main.go", "", []byte("package main\n\nfunc main() {}\n"))
	require.NoError(t, err)
	assert.Equal(t, "go", res.Hints.CodeLanguage)

	res, err = e.Extract("script.py", "text/x-python", []byte("print('hi')\n"))
	require.NoError(t, err)
	assert.Equal(t, "python", res.Hints.CodeLanguage)
}

func TestExtractEmptyContent(t *testing.T) {
	e := NewTextExtractor()

	_, err := e.Extract("blank.txt", "text/plain", []byte("  \n\t \n"))
	assert.ErrorIs(t, err, services.ErrEmptyExtract)

	_, err = e.Extract("blank.md", "text/markdown", []byte(""))
	assert.ErrorIs(t, err, services.ErrEmptyExtract)
}

func TestExtractInvalidUTF8(t *testing.T) {
	e := NewTextExtractor()

	_, err := e.Extract("bin.txt", "text/plain", []byte{0xff, 0xfe, 0x01})
	require.Error(t, err)
	assert.NotErrorIs(t, err, services.ErrEmptyExtract)
}

func TestExtractUnsupportedType(t *testing.T) {
	e := NewTextExtractor()

	_, err := e.Extract("image.png", "image/png", []byte{0x89, 0x50})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}

func buildDOCX(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("word/document.xml")
	require.NoError(t, err)
	_, err = f.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestExtractDOCX(t *testing.T) {
	e := NewTextExtractor()

	doc := `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second </w:t></w:r><w:r><w:t>paragraph.</w:t></w:r></w:p>
  </w:body>
</w:document>`

	res, err := e.Extract("report.docx",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		buildDOCX(t, doc))
	require.NoError(t, err)
	assert.Equal(t, "First paragraph.\nSecond paragraph.\n", res.Text)
}

func TestExtractDOCXMissingDocumentPart(t *testing.T) {
	e := NewTextExtractor()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("word/styles.xml")
	require.NoError(t, err)
	_, err = f.Write([]byte("<styles/>"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = e.Extract("broken.docx",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		buf.Bytes())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no document part")
}

func TestExtractDOCXNotAnArchive(t *testing.T) {
	e := NewTextExtractor()

	_, err := e.Extract("corrupt.docx",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		[]byte("definitely not a zip"))
	assert.Error(t, err)
}

func TestSupports(t *testing.T) {
	e := NewTextExtractor()

	assert.True(t, e.Supports("a.md", ""))
	assert.True(t, e.Supports("a.txt", ""))
	assert.True(t, e.Supports("a.pdf", ""))
	assert.True(t, e.Supports("a.docx", ""))
	assert.True(t, e.Supports("main.rs", ""))
	assert.True(t, e.Supports("noext", "text/csv"))
	assert.True(t, e.Supports("UPPER.MD", ""))

	assert.False(t, e.Supports("archive.zip", "application/zip"))
	assert.False(t, e.Supports("photo.jpg", "image/jpeg"))
}
