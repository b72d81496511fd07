package bridge

import "github.com/dkeye/omnio/internal/domain"

// FileDescriptor is what a native file picker or provider hands over.
// Either Path or URL locates the bytes; Content is optional.
type FileDescriptor struct {
	ID          string
	Name        string
	Description string
	Path        string
	URL         string
	Size        int64
	Content     []byte
}

// FileDocument turns a descriptor into a file body.
func FileDocument(desc FileDescriptor) domain.FileBody {
	size := desc.Size
	if size == 0 && len(desc.Content) > 0 {
		size = int64(len(desc.Content))
	}
	return domain.FileBody{
		FileID:      desc.ID,
		Name:        desc.Name,
		Description: desc.Description,
		Path:        desc.Path,
		URL:         desc.URL,
		Size:        size,
		Content:     desc.Content,
	}
}
