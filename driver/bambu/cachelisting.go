package bambu

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/schmacka/printernizer-sub001/model"
)

// cacheDirLister is the second and final file-listing strategy in the
// Bambu chain: some Bambu firmware exposes a plain-text directory listing
// of /cache over its local HTTP port, in the same Unix `ls -l` shape as
// the FTP LIST command. It is tried only after direct FTP has failed.
type cacheDirLister struct {
	host string
}

func newCacheDirLister(host string) *cacheDirLister {
	return &cacheDirLister{host: host}
}

func (c *cacheDirLister) listFiles() ([]model.PrinterFile, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/cache/", c.host))
	if err != nil {
		return nil, fmt.Errorf("bambu cache listing: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bambu cache listing: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("bambu cache listing: reading body: %w", err)
	}
	files := parseUnixListing(string(body))
	if len(files) == 0 {
		return nil, fmt.Errorf("bambu cache listing: no parseable entries")
	}
	return files, nil
}
