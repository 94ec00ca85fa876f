package contacts

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/MailPipe/internal/models"
)

// FileSource reads contacts from a YAML file on every call, so edits apply
// without a restart. The file holds either a list or a `contacts:` key.
type FileSource struct {
	path string
}

// NewFileSource creates a source for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

type contactsFile struct {
	Contacts []models.Contact `yaml:"contacts"`
}

// ListContacts implements Source. The user token is ignored.
func (s *FileSource) ListContacts(_ context.Context, _ string) ([]models.Contact, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, &models.GatewayError{Gateway: "contacts", Op: "list", Kind: models.ErrUpstreamUnavailable,
			Err: fmt.Errorf("failed to read contacts file: %w", err)}
	}

	var list []models.Contact
	if err := yaml.Unmarshal(data, &list); err != nil {
		var wrapped contactsFile
		if err2 := yaml.Unmarshal(data, &wrapped); err2 != nil {
			return nil, &models.GatewayError{Gateway: "contacts", Op: "list", Kind: models.ErrUpstreamProcessing,
				Err: fmt.Errorf("failed to parse contacts file: %w", err)}
		}
		list = wrapped.Contacts
	}
	return Sanitize(KindFile, list), nil
}
