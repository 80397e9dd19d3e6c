// internal/source/scan.go
package source

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	zlog "github.com/rs/zerolog/log"
)

// EMLFile 은 scan 결과 1건. Size 는 stat 실패 시 0.
type EMLFile struct {
	Path string
	Size int64
}

// ScanEML
// ------------------------------------------------------------
// root 아래의 *.eml (대소문자 무시) 을 재귀적으로 찾는다.
//   - 결과는 경로 순으로 정렬 (실행마다 같은 순서 → 같은 분할 결과)
//   - 읽을 수 없는 하위 디렉토리는 경고 후 건너뛴다
//   - 반환값 total 은 Size 합계 (even-split 목표 계산용)
func ScanEML(root string) ([]EMLFile, int64, error) {
	st, err := os.Stat(root)
	if err != nil {
		return nil, 0, fmt.Errorf("scan %s: %w", root, err)
	}
	if !st.IsDir() {
		return nil, 0, fmt.Errorf("scan %s: not a directory", root)
	}

	var (
		files []EMLFile
		total int64
	)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			zlog.Warn().Err(err).Str("path", path).Msg("scan: skip unreadable entry")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".eml") {
			return nil
		}

		var size int64
		if info, err := d.Info(); err == nil {
			size = info.Size()
		}
		files = append(files, EMLFile{Path: path, Size: size})
		total += size
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("scan %s: %w", root, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, total, nil
}
