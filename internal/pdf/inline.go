package pdf

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var imgSrcPattern = regexp.MustCompile(`(<img[^>]+src=")([^"]+)(")`)

var mimeByExt = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".webp": "image/webp",
}

// InlineImages replaces local image references with data URIs so the
// document is self-contained for export. Paths resolve relative to baseDir;
// remote and already inlined sources are left untouched, as are files that
// cannot be read. Path traversal out of baseDir is ignored.
func InlineImages(html, baseDir string) string {
	return imgSrcPattern.ReplaceAllStringFunc(html, func(match string) string {
		parts := imgSrcPattern.FindStringSubmatch(match)
		src := parts[2]

		if strings.HasPrefix(src, "data:") || strings.Contains(src, "://") {
			return match
		}

		mime, ok := mimeByExt[strings.ToLower(filepath.Ext(src))]
		if !ok {
			return match
		}

		path := filepath.Join(baseDir, filepath.Clean("/"+src))
		data, err := os.ReadFile(path)
		if err != nil {
			zap.L().Warn("image not inlined", zap.String("src", src), zap.Error(err))
			return match
		}

		uri := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))
		return parts[1] + uri + parts[3]
	})
}
