package protocol

import (
	"io"
	"mime"
	"mime/multipart"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBody(t *testing.T) {
	body, err := encodeBody(nil)
	require.NoError(t, err)
	assert.Nil(t, body)
	assert.Nil(t, body.reader())

	var blob *Blob
	body, err = encodeBody(blob)
	require.NoError(t, err)
	assert.Nil(t, body)

	body, err = encodeBody(map[string]int{"n": 1})
	require.NoError(t, err)
	assert.Equal(t, ContentTypeJSON, body.contentType)
	assert.JSONEq(t, `{"n":1}`, string(body.data))

	body, err = encodeBody(&Blob{Data: strings.NewReader("x")})
	require.NoError(t, err)
	assert.Equal(t, ContentTypeBinary, body.contentType)

	again, err := encodeBody(body)
	require.NoError(t, err)
	assert.Same(t, body, again)

	_, err = encodeBody(func() {})
	assert.Error(t, err)
}

func TestEncodeBody_ReaderIsReplayable(t *testing.T) {
	body, err := encodeBody(strings.NewReader("payload"))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		data, err := io.ReadAll(body.reader())
		require.NoError(t, err)
		assert.Equal(t, "payload", string(data))
	}
}

func TestEncodeMultipart(t *testing.T) {
	body, err := encodeBody(&Multipart{
		Fields: map[string]string{"alt": "a cat"},
		Files:  []MultipartFile{{Field: "file", FileName: "photo.bin", Data: strings.NewReader("BIN")}},
	})
	require.NoError(t, err)

	mediaType, params, err := mime.ParseMediaType(body.contentType)
	require.NoError(t, err)
	assert.Equal(t, "multipart/form-data", mediaType)
	require.NotEmpty(t, params["boundary"])

	form, err := multipart.NewReader(body.reader(), params["boundary"]).ReadForm(1 << 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"a cat"}, form.Value["alt"])
	require.Len(t, form.File["file"], 1)
	assert.Equal(t, "photo.bin", form.File["file"][0].Filename)
	assert.Equal(t, ContentTypeBinary, form.File["file"][0].Header.Get("Content-Type"))
}
