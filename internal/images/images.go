// Package images manages the local base image store. Images are qcow2
// files kept under {base}/images, keyed by alias; backends clone instance
// boot disks off them. Fetching images from remote streams is out of scope
// here: the store only serves what has been imported.
package images

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jbweber/crucible/api/v1alpha1"
)

// imageExt is the on-disk extension for stored images.
const imageExt = ".qcow2"

// Info describes one stored base image.
type Info struct {
	// Alias is the name instances reference the image by.
	Alias string
	// Path is the image file location.
	Path string
	// SizeBytes is the file size on disk.
	SizeBytes int64
}

// Store is the base image directory.
type Store struct {
	dir string
}

// NewStore roots the image store under base.
func NewStore(base string) *Store {
	return &Store{dir: filepath.Join(base, "images")}
}

// validAlias rejects aliases that would escape the store directory.
func validAlias(alias string) error {
	if alias == "" {
		return fmt.Errorf("image alias cannot be empty")
	}
	if strings.ContainsAny(alias, "/\\") || alias == "." || alias == ".." {
		return fmt.Errorf("invalid image alias %q", alias)
	}
	return nil
}

// Path returns where an image with the given alias lives, whether or not it
// exists.
func (s *Store) Path(alias string) string {
	return filepath.Join(s.dir, alias+imageExt)
}

// Resolve maps an image reference ("release:noble" or "noble") to the path
// of the stored image, failing when the image has not been imported.
func (s *Store) Resolve(ref string) (string, error) {
	alias := v1alpha1.ImageAlias(ref)
	if err := validAlias(alias); err != nil {
		return "", err
	}

	path := s.Path(alias)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("base image %q not available at %s: %w", ref, path, err)
	}
	return path, nil
}

// Exists reports whether an image with the given alias has been imported.
func (s *Store) Exists(alias string) (bool, error) {
	if err := validAlias(alias); err != nil {
		return false, err
	}
	_, err := os.Stat(s.Path(alias))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Import brings a local image file into the store under the given alias,
// converting it to qcow2. Raw cloud images and qcow2 files both work;
// qemu-img detects the source format.
func (s *Store) Import(srcPath, alias string) error {
	if err := validAlias(alias); err != nil {
		return err
	}
	if _, err := os.Stat(srcPath); err != nil {
		return fmt.Errorf("failed to stat image file: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create image store: %w", err)
	}

	dst := s.Path(alias)
	cmd := exec.Command("qemu-img", "convert", "-O", "qcow2", srcPath, dst)
	if out, err := cmd.CombinedOutput(); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("failed to import image %s: %w: %s", alias, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// List returns the stored images sorted by alias. A missing store directory
// is an empty store.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read image store: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), imageExt) {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			Alias:     strings.TrimSuffix(entry.Name(), imageExt),
			Path:      filepath.Join(s.dir, entry.Name()),
			SizeBytes: fi.Size(),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Alias < infos[j].Alias })
	return infos, nil
}

// Delete removes a stored image. Removing an absent image is not an error.
func (s *Store) Delete(alias string) error {
	if err := validAlias(alias); err != nil {
		return err
	}
	if err := os.Remove(s.Path(alias)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete image %s: %w", alias, err)
	}
	return nil
}
