package bambu

import (
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/schmacka/printernizer-sub001/model"
	"github.com/secsy/goftp"
)

// ftpTransport implements the direct-FTP-over-implicit-TLS strategy for
// listing/downloading files from a Bambu printer's /cache directory (§6).
type ftpTransport struct {
	host       string
	accessCode string
}

func newFTPTransport(host, accessCode string) *ftpTransport {
	return &ftpTransport{host: host, accessCode: accessCode}
}

func (f *ftpTransport) dial() (*goftp.Client, error) {
	config := goftp.Config{
		User:            "bblp",
		Password:        f.accessCode,
		ConnectionsPerHost: 1,
		Timeout:         10 * time.Second,
		TLSConfig:       &tls.Config{InsecureSkipVerify: true},
		TLSMode:         goftp.TLSImplicit,
	}
	return goftp.DialConfig(config, fmt.Sprintf("%s:990", f.host))
}

// unixListLine matches `ls -l`-style FTP LIST output: permissions, link
// count, user, group, size, date (3 fields), name (may contain spaces).
var unixListLine = regexp.MustCompile(`^([\-dl][rwxstST\-]{9})\s+(\d+)\s+(\S+)\s+(\S+)\s+(\d+)\s+(\w+\s+\d+\s+[\d:]+)\s+(.+)$`)

func parseUnixListing(raw string) []model.PrinterFile {
	var files []model.PrinterFile
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		m := unixListLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		perms, _, _, _, sizeStr, _, name := m[1], m[2], m[3], m[4], m[5], m[6], m[7]
		if strings.HasPrefix(perms, "d") {
			continue // skip directories
		}
		size, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil {
			continue
		}
		files = append(files, model.PrinterFile{
			Name:      name,
			Path:      "/cache/" + name,
			SizeBytes: size,
		})
	}
	return files
}

func (f *ftpTransport) listFiles() ([]model.PrinterFile, error) {
	client, err := f.dial()
	if err != nil {
		return nil, fmt.Errorf("bambu ftp: dial: %w", err)
	}
	entries, err := client.ReadDir("/cache")
	if err != nil {
		return nil, fmt.Errorf("bambu ftp: list /cache: %w", err)
	}
	var files []model.PrinterFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files = append(files, model.PrinterFile{
			Name:      e.Name(),
			Path:      "/cache/" + e.Name(),
			SizeBytes: e.Size(),
		})
	}
	return files, nil
}

func (f *ftpTransport) downloadFile(remoteName, localPath string) error {
	client, err := f.dial()
	if err != nil {
		return fmt.Errorf("bambu ftp: dial: %w", err)
	}
	out, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer out.Close()

	remotePath := remoteName
	if !strings.HasPrefix(remotePath, "/") {
		remotePath = "/cache/" + remotePath
	}
	return client.Retrieve(remotePath, io.Writer(out))
}
