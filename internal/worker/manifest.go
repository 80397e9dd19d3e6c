// internal/worker/manifest.go
package worker

import (
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"

	"mailpart/internal/model"
	"mailpart/internal/pool"
)

// ManifestPath: <dir>/<base>_manifest.jsonl
func ManifestPath(dir, base string) string {
	return filepath.Join(dir, base+"_manifest.jsonl")
}

// WriteManifest
// ------------------------------------------------------------
// part 집계를 JSONL (part 1개 = 1줄) 로 기록한다.
//
//   - pool buffer 에 전부 인코딩한 뒤 한 번에 기록
//   - 임시 파일에 쓰고 rename → 중간에 죽어도 반쯤 쓰인 manifest 는 남지 않는다
func WriteManifest(path string, parts []model.PartRecord) error {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	enc := json.NewEncoder(buf)
	for _, p := range parts {
		if err := enc.Encode(p); err != nil {
			return fmt.Errorf("manifest encode part=%d: %w", p.Part, err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("manifest write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("manifest rename %s: %w", path, err)
	}
	return nil
}
