package infra

import (
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// NewBoltDB はbboltのデータベースファイルを開く。親ディレクトリが無ければ作成する。
func NewBoltDB(path string) (*bbolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	// 他プロセスがロックしている場合に無限に待たない
	return bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
}
