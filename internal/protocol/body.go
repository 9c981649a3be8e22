package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strings"
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodedBody is a request body rendered to bytes, so that the same call can
// be sent twice when the executor retries it.
type encodedBody struct {
	data        []byte
	contentType string
	// fixedType marks a content type callers may not override, such as a
	// multipart type carrying the boundary of data.
	fixedType bool
}

func (b *encodedBody) reader() io.Reader {
	if b == nil {
		return nil
	}
	return bytes.NewReader(b.data)
}

// encodeBody renders body according to its type: readers and byte slices are
// sent as binary, *Multipart as form data, anything else as JSON.
func encodeBody(body any) (*encodedBody, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case *encodedBody:
		return b, nil
	case []byte:
		return &encodedBody{data: b, contentType: ContentTypeBinary}, nil
	case *Blob:
		if b == nil {
			return nil, nil
		}
		data, err := readAll(b.Data)
		if err != nil {
			return nil, err
		}
		contentType := b.ContentType
		if contentType == "" {
			contentType = ContentTypeBinary
		}
		return &encodedBody{data: data, contentType: contentType}, nil
	case *Multipart:
		if b == nil {
			return nil, nil
		}
		return encodeMultipart(b)
	case io.Reader:
		data, err := readAll(b)
		if err != nil {
			return nil, err
		}
		return &encodedBody{data: data, contentType: ContentTypeBinary}, nil
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		return &encodedBody{data: data, contentType: ContentTypeJSON}, nil
	}
}

func encodeMultipart(m *Multipart) (*encodedBody, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for name, value := range m.Fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", name, err)
		}
	}

	for _, f := range m.Files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			quoteEscaper.Replace(f.Field), quoteEscaper.Replace(f.FileName)))
		contentType := f.ContentType
		if contentType == "" {
			contentType = ContentTypeBinary
		}
		header.Set(HeaderContentType, contentType)

		part, err := w.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("failed to create form file %s: %w", f.Field, err)
		}
		if f.Data != nil {
			if _, err := io.Copy(part, f.Data); err != nil {
				return nil, fmt.Errorf("failed to write form file %s: %w", f.Field, err)
			}
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish multipart body: %w", err)
	}
	return &encodedBody{data: buf.Bytes(), contentType: w.FormDataContentType(), fixedType: true}, nil
}

func readAll(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	return data, nil
}
