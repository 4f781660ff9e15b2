package methods

import (
	"os"
	"path/filepath"
	"strings"
)

// FindFiles 递归查找指定扩展名的文件
func FindFiles(root string, Exc string) []string {
	var files []string
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if strings.HasSuffix(strings.ToLower(info.Name()), "."+Exc) {
			files = append(files, path)
		}
		return nil
	})
	return files
}
