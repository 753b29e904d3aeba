package transport

import (
	"crypto/tls"
	"fmt"
	"os"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/hummel22/bambuQueue/internal/logging"
)

const (
	ftpsPort    = 990
	ftpsUser    = "bblp"
	ftpsTimeout = 30 * time.Second
)

// FTPSClient uploads artifacts to a printer's storage over explicit TLS.
// The printers present self-signed certificates, so peer verification is
// disabled.
type FTPSClient struct{}

func NewFTPSClient() *FTPSClient {
	return &FTPSClient{}
}

func (c *FTPSClient) Upload(host, accessCode, localPath, remoteName string) error {
	if host == "" || accessCode == "" {
		return fmt.Errorf("ftps upload failed: missing host or access code")
	}

	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("ftps upload failed: unable to open %s: %w", localPath, err)
	}
	defer file.Close()

	conn, err := ftp.Dial(fmt.Sprintf("%s:%d", host, ftpsPort),
		ftp.DialWithExplicitTLS(&tls.Config{InsecureSkipVerify: true}),
		ftp.DialWithTimeout(ftpsTimeout))
	if err != nil {
		return fmt.Errorf("ftps upload failed: unable to connect to %s: %w", host, err)
	}
	defer conn.Quit()

	if err := conn.Login(ftpsUser, accessCode); err != nil {
		return fmt.Errorf("ftps upload failed: login rejected: %w", err)
	}

	if err := conn.Stor(remoteName, file); err != nil {
		return fmt.Errorf("ftps upload failed: %w", err)
	}

	logging.Component("ftps").WithField("remote", remoteName).WithField("host", host).
		Info("uploaded artifact")
	return nil
}
