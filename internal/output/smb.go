package output

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/hirochachacha/go-smb2"

	"github.com/thoscut/tiffpress/internal/config"
	"github.com/thoscut/tiffpress/internal/jobs"
)

// SMBHandler uploads documents to a SMB/CIFS network share.
type SMBHandler struct {
	server    string
	share     string
	username  string
	password  string
	directory string
}

// NewSMBHandler creates a new SMB output handler.
func NewSMBHandler(cfg config.SMBConfig) (*SMBHandler, error) {
	password := ""
	if cfg.PasswordFile != "" {
		data, err := os.ReadFile(cfg.PasswordFile)
		if err != nil {
			return nil, fmt.Errorf("read SMB password file: %w", err)
		}
		password = strings.TrimSpace(string(data))
	}

	return &SMBHandler{
		server:    smbAddress(cfg.Server),
		share:     cfg.Share,
		username:  cfg.Username,
		password:  password,
		directory: strings.Trim(cfg.Directory, "/"),
	}, nil
}

// smbAddress strips a leading "//" and adds the default port.
func smbAddress(server string) string {
	server = strings.TrimPrefix(server, "//")
	if server != "" && !strings.Contains(server, ":") {
		server += ":445"
	}
	return server
}

func (h *SMBHandler) Name() string { return "smb" }

func (h *SMBHandler) Available() bool {
	return h.server != "" && h.share != ""
}

// Send uploads a document to the SMB share.
func (h *SMBHandler) Send(ctx context.Context, doc *jobs.Document) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", h.server)
	if err != nil {
		return fmt.Errorf("SMB connect: %w", err)
	}
	defer conn.Close()

	d := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     h.username,
			Password: h.password,
		},
	}

	session, err := d.DialContext(ctx, conn)
	if err != nil {
		return fmt.Errorf("SMB authenticate: %w", err)
	}
	defer session.Logoff()

	share, err := session.Mount(h.share)
	if err != nil {
		return fmt.Errorf("SMB mount share: %w", err)
	}
	defer share.Umount()
	share = share.WithContext(ctx)

	path := doc.Filename
	if h.directory != "" {
		if err := share.MkdirAll(h.directory, 0o755); err != nil {
			return fmt.Errorf("SMB create directory: %w", err)
		}
		path = h.directory + "/" + doc.Filename
	}

	f, err := share.Create(path)
	if err != nil {
		return fmt.Errorf("SMB create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, doc.Reader); err != nil {
		return fmt.Errorf("SMB write: %w", err)
	}

	return nil
}
