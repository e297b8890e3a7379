package filecollector

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryFs struct {
	billy.Filesystem
}

func (mfs *memoryFs) walk(root string, fn filepath.WalkFunc) error {
	dir, err := mfs.ReadDir(root)
	if err != nil {
		return err
	}
	for i := 0; i < len(dir); i++ {
		filename := filepath.Join(root, dir[i].Name())
		err = fn(filename, dir[i], nil)
		if dir[i].IsDir() {
			if err == filepath.SkipDir {
				err = nil
			} else if err := mfs.walk(filename, fn); err != nil {
				return err
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (mfs *memoryFs) Walk(root string, fn filepath.WalkFunc) error {
	stat, err := mfs.Lstat(root)
	if err != nil {
		return err
	}
	err = fn(strings.Join([]string{root, "."}, string(filepath.Separator)), stat, nil)
	if err != nil {
		return err
	}
	return mfs.walk(root, fn)
}

func (mfs *memoryFs) OpenGitIndex(path string) (*index.Index, error) {
	f, _ := mfs.Filesystem.Chroot(filepath.Join(path, ".git"))
	storage := filesystem.NewStorage(f, cache.NewObjectLRUDefault())
	i, err := storage.Index()
	if err != nil {
		return nil, err
	}
	return i, nil
}

func (mfs *memoryFs) Open(path string) (io.ReadCloser, error) {
	return mfs.Filesystem.Open(path)
}

func (mfs *memoryFs) Readlink(path string) (string, error) {
	return mfs.Filesystem.Readlink(path)
}

func TestIgnoredTrackedfile(t *testing.T) {
	fs := memfs.New()
	_ = fs.MkdirAll("mygitrepo/.git", 0o777)
	dotgit, _ := fs.Chroot("mygitrepo/.git")
	worktree, _ := fs.Chroot("mygitrepo")
	repo, _ := git.Init(filesystem.NewStorage(dotgit, cache.NewObjectLRUDefault()), worktree)
	f, _ := worktree.Create(".gitignore")
	_, _ = f.Write([]byte(".*\n"))
	f.Close()
	// This file shouldn't be in the tar
	f, _ = worktree.Create(".env")
	_, _ = f.Write([]byte("test=val1\n"))
	f.Close()
	w, _ := repo.Worktree()
	// .gitignore is in the tar after adding it to the index
	_, _ = w.Add(".gitignore")

	tmpTar, _ := fs.Create("temp.tar")
	tw := tar.NewWriter(tmpTar)
	ps, _ := gitignore.ReadPatterns(worktree, []string{})
	ignorer := gitignore.NewMatcher(ps)
	fc := &FileCollector{
		Fs:        &memoryFs{Filesystem: fs},
		Ignorer:   ignorer,
		SrcPath:   "mygitrepo",
		SrcPrefix: "mygitrepo" + string(filepath.Separator),
		Handler: &TarCollector{
			TarWriter: tw,
		},
	}
	err := fc.Fs.Walk("mygitrepo", fc.CollectFiles(context.Background(), []string{}))
	assert.NoError(t, err, "successfully collect files")
	tw.Close()
	_, _ = tmpTar.Seek(0, io.SeekStart)
	tr := tar.NewReader(tmpTar)
	h, err := tr.Next()
	assert.NoError(t, err, "tar must not be empty")
	assert.Equal(t, ".gitignore", h.Name)
	_, err = tr.Next()
	assert.ErrorIs(t, err, io.EOF, "tar must only contain one element")
}

func TestSymlinks(t *testing.T) {
	fs := memfs.New()
	_ = fs.MkdirAll("mygitrepo/.git", 0o777)
	dotgit, _ := fs.Chroot("mygitrepo/.git")
	worktree, _ := fs.Chroot("mygitrepo")
	repo, _ := git.Init(filesystem.NewStorage(dotgit, cache.NewObjectLRUDefault()), worktree)
	// This file shouldn't be in the tar
	f, err := worktree.Create(".env")
	assert.NoError(t, err)
	_, err = f.Write([]byte("test=val1\n"))
	assert.NoError(t, err)
	f.Close()
	err = worktree.Symlink(".env", "test.env")
	assert.NoError(t, err)

	w, err := repo.Worktree()
	assert.NoError(t, err)

	// .gitignore is in the tar after adding it to the index
	_, err = w.Add(".env")
	assert.NoError(t, err)
	_, err = w.Add("test.env")
	assert.NoError(t, err)

	tmpTar, _ := fs.Create("temp.tar")
	tw := tar.NewWriter(tmpTar)
	ps, _ := gitignore.ReadPatterns(worktree, []string{})
	ignorer := gitignore.NewMatcher(ps)
	fc := &FileCollector{
		Fs:        &memoryFs{Filesystem: fs},
		Ignorer:   ignorer,
		SrcPath:   "mygitrepo",
		SrcPrefix: "mygitrepo" + string(filepath.Separator),
		Handler: &TarCollector{
			TarWriter: tw,
		},
	}
	err = fc.Fs.Walk("mygitrepo", fc.CollectFiles(context.Background(), []string{}))
	assert.NoError(t, err, "successfully collect files")
	tw.Close()
	_, _ = tmpTar.Seek(0, io.SeekStart)
	tr := tar.NewReader(tmpTar)
	h, err := tr.Next()
	files := map[string]tar.Header{}
	for err == nil {
		files[h.Name] = *h
		h, err = tr.Next()
	}

	assert.Equal(t, ".env", files[".env"].Name)
	assert.Equal(t, "test.env", files["test.env"].Name)
	assert.Equal(t, ".env", files["test.env"].Linkname)
	assert.ErrorIs(t, err, io.EOF, "tar must be read cleanly to EOF")
}

func TestCollectAndUntar(t *testing.T) {
	src := t.TempDir()
	assert.NoError(t, os.MkdirAll(filepath.Join(src, "bin"), 0o755))
	assert.NoError(t, os.WriteFile(filepath.Join(src, "bin", "tool"), []byte("#!/bin/sh\n"), 0o755))
	assert.NoError(t, os.WriteFile(filepath.Join(src, "data.json"), []byte(`{"a":1}`), 0o644))
	assert.NoError(t, os.WriteFile(filepath.Join(src, "debug.log"), []byte("noise"), 0o644))

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	err := Collect(context.Background(), src, &TarCollector{TarWriter: tw, DstDir: "0"}, "*.log")
	assert.NoError(t, err)
	assert.NoError(t, tw.Close())

	dst := t.TempDir()
	assert.NoError(t, Untar(context.Background(), &buf, dst))

	b, err := os.ReadFile(filepath.Join(dst, "0", "data.json"))
	assert.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(b))
	b, err = os.ReadFile(filepath.Join(dst, "0", "bin", "tool"))
	assert.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\n", string(b))
	_, err = os.Stat(filepath.Join(dst, "0", "debug.log"))
	assert.True(t, os.IsNotExist(err), "excluded file must not be archived")
}

func TestUntarRejectsTraversal(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	assert.NoError(t, tw.WriteHeader(&tar.Header{Name: "../evil", Mode: 0o644, Size: 1, Typeflag: tar.TypeReg}))
	_, _ = tw.Write([]byte("x"))
	assert.NoError(t, tw.Close())

	err := Untar(context.Background(), &buf, t.TempDir())
	assert.EqualError(t, err, "illegal file path in archive: ../evil")
}

func TestUntarSymlinks(t *testing.T) {
	type entry struct {
		name, link, body string
	}
	untar := func(t *testing.T, dst string, entries ...entry) error {
		var buf bytes.Buffer
		tw := tar.NewWriter(&buf)
		for _, e := range entries {
			if e.link != "" {
				require.NoError(t, tw.WriteHeader(&tar.Header{Name: e.name, Linkname: e.link, Mode: 0o777, Typeflag: tar.TypeSymlink}))
				continue
			}
			require.NoError(t, tw.WriteHeader(&tar.Header{Name: e.name, Mode: 0o644, Size: int64(len(e.body)), Typeflag: tar.TypeReg}))
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
		require.NoError(t, tw.Close())
		return Untar(context.Background(), &buf, dst)
	}

	t.Run("link inside dst", func(t *testing.T) {
		dst := t.TempDir()
		require.NoError(t, untar(t, dst,
			entry{name: "bin/node", body: "elf"},
			entry{name: "node", link: "bin/node"},
			entry{name: "lib/npm", link: "../bin/node"},
		))
		b, err := os.ReadFile(filepath.Join(dst, "node"))
		require.NoError(t, err)
		assert.Equal(t, "elf", string(b))
		link, err := os.Readlink(filepath.Join(dst, "lib", "npm"))
		require.NoError(t, err)
		assert.Equal(t, "../bin/node", link)
	})

	t.Run("relative escape", func(t *testing.T) {
		root := t.TempDir()
		dst := filepath.Join(root, "dst")
		err := untar(t, dst,
			entry{name: "link", link: "../outside"},
			entry{name: "link/file", body: "pwned"},
		)
		assert.EqualError(t, err, "illegal link target in archive: link -> ../outside")
		_, err = os.Lstat(filepath.Join(dst, "link"))
		assert.True(t, os.IsNotExist(err))
		_, err = os.Stat(filepath.Join(root, "outside", "file"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("absolute target", func(t *testing.T) {
		outside := t.TempDir()
		err := untar(t, t.TempDir(), entry{name: "etc", link: outside})
		assert.ErrorContains(t, err, "illegal link target in archive: etc -> ")
	})

	t.Run("write below existing link", func(t *testing.T) {
		outside := t.TempDir()
		dst := t.TempDir()
		require.NoError(t, os.Symlink(outside, filepath.Join(dst, "cache")))
		err := untar(t, dst, entry{name: "cache/file", body: "pwned"})
		assert.ErrorContains(t, err, "is below symlink")
		_, err = os.Stat(filepath.Join(outside, "file"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("file replaces link", func(t *testing.T) {
		outside := filepath.Join(t.TempDir(), "target")
		require.NoError(t, os.WriteFile(outside, []byte("keep"), 0o644))
		dst := t.TempDir()
		require.NoError(t, os.Symlink(outside, filepath.Join(dst, "f")))
		require.NoError(t, untar(t, dst, entry{name: "f", body: "new"}))
		b, err := os.ReadFile(outside)
		require.NoError(t, err)
		assert.Equal(t, "keep", string(b))
		b, err = os.ReadFile(filepath.Join(dst, "f"))
		require.NoError(t, err)
		assert.Equal(t, "new", string(b))
	})
}

func TestCopyCollectorOverwrites(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	assert.NoError(t, os.WriteFile(filepath.Join(dst, "f"), []byte("old and longer"), 0o644))
	assert.NoError(t, os.WriteFile(filepath.Join(src, "f"), []byte("new"), 0o644))

	assert.NoError(t, Collect(context.Background(), src, &CopyCollector{DstDir: dst}))
	b, err := os.ReadFile(filepath.Join(dst, "f"))
	assert.NoError(t, err)
	assert.Equal(t, "new", string(b))
}

func TestZipCollector(t *testing.T) {
	src := t.TempDir()
	assert.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("hello"), 0o644))

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	assert.NoError(t, Collect(context.Background(), src, &ZipCollector{ZipWriter: zw}))
	assert.NoError(t, zw.Close())

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	assert.NoError(t, err)
	assert.Len(t, zr.File, 1)
	assert.Equal(t, "a.txt", zr.File[0].Name)
}

func TestCollectAndUnzip(t *testing.T) {
	src := t.TempDir()
	assert.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	assert.NoError(t, os.WriteFile(filepath.Join(src, "sub", "b.txt"), []byte("world"), 0o644))

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	assert.NoError(t, Collect(context.Background(), src, &ZipCollector{ZipWriter: zw, Store: true}))
	assert.NoError(t, zw.Close())

	dst := t.TempDir()
	assert.NoError(t, Unzip(context.Background(), bytes.NewReader(buf.Bytes()), int64(buf.Len()), dst))
	b, err := os.ReadFile(filepath.Join(dst, "sub", "b.txt"))
	assert.NoError(t, err)
	assert.Equal(t, "world", string(b))
}

func TestUnzipRejectsTraversal(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("../evil")
	assert.NoError(t, err)
	_, _ = w.Write([]byte("x"))
	assert.NoError(t, zw.Close())

	err = Unzip(context.Background(), bytes.NewReader(buf.Bytes()), int64(buf.Len()), t.TempDir())
	assert.EqualError(t, err, "illegal file path in archive: ../evil")
}
