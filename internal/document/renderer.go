package document

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Output is one rendered document. The byte-level format is the
// presentation layer's concern; this boundary only promises a blob, a
// unique name and the passphrase protecting it.
type Output struct {
	Name     string
	Data     []byte
	Password string
}

// Renderer fills finalized field values into a template layout.
type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

// newPassword returns an uppercase hex passphrase for the rendered blob.
func newPassword() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("render password: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

// Render fills values into the template's field order and returns the
// blob. Fields with no value render blank rather than failing; a half
// empty document is still deliverable.
func (r *Renderer) Render(t Template, values map[string]string) (Output, error) {
	password, err := newPassword()
	if err != nil {
		return Output{}, err
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%% %s\n", t.Name)
	for _, field := range t.Fields {
		fmt.Fprintf(&buf, "%s: %s\n", field, values[field])
	}

	return Output{
		Name:     fmt.Sprintf("%s_%s", t.ID, uuid.NewString()),
		Data:     buf.Bytes(),
		Password: password,
	}, nil
}
