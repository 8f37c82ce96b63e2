package octoprint

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/schmacka/printernizer-sub001/model"
)

// fileNode mirrors OctoPrint's recursive /api/files response: folders
// carry Children, printable files carry Refs.Download.
type fileNode struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	Type     string     `json:"type"` // "folder" or "machinecode"/"model"
	Origin   string     `json:"origin"`
	Size     int64      `json:"size"`
	Children []fileNode `json:"children,omitempty"`
	Refs     struct {
		Download string `json:"download"`
	} `json:"refs"`
}

type filesResponse struct {
	Files []fileNode `json:"files"`
}

// listFiles walks the recursive /api/files?recursive=true tree and
// flattens it into PrinterFile entries, each path prefixed by its
// origin ("local/..." or "sdcard/..."), per §4.1.
func (c *restClient) listFiles(ctx context.Context) ([]model.PrinterFile, error) {
	var resp filesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/files?recursive=true", nil, &resp); err != nil {
		return nil, err
	}
	var out []model.PrinterFile
	for _, n := range resp.Files {
		out = append(out, flattenFileNode(n)...)
	}
	return out, nil
}

func flattenFileNode(n fileNode) []model.PrinterFile {
	if n.Type == "folder" {
		var out []model.PrinterFile
		for _, child := range n.Children {
			out = append(out, flattenFileNode(child)...)
		}
		return out
	}
	path := n.Path
	if n.Origin != "" {
		path = n.Origin + "/" + n.Path
	}
	return []model.PrinterFile{{
		Name:      n.Name,
		Path:      path,
		SizeBytes: n.Size,
	}}
}

// downloadFile follows the file-info endpoint's refs.download URL and
// streams the body to disk, per §4.1.
func (c *restClient) downloadFile(ctx context.Context, origin, path, localPath string) error {
	var node fileNode
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/files/%s/%s", origin, path), nil, &node); err != nil {
		return err
	}
	if node.Refs.Download == "" {
		return fmt.Errorf("octoprint: no download ref for %s/%s", origin, path)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, node.Refs.Download, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("octoprint download %s: HTTP %d", node.Refs.Download, resp.StatusCode)
	}

	out, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, resp.Body)
	return err
}
