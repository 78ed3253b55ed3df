package storage

import (
	"errors"
	"fmt"
	"regexp"
)

const reportsPrefix = "reports/"

var (
	ErrInvalidReportPath = errors.New("storage: invalid report path")

	ownerPattern      = regexp.MustCompile(`^[a-z0-9._-]+$`)
	reportIDPattern   = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
	reportPathPattern = regexp.MustCompile(`^reports/([a-z0-9._-]+)/([A-Za-z0-9-]+)\.(html|pdf|json)$`)
)

var reportContentTypes = map[string]string{
	"html": "text/html; charset=utf-8",
	"pdf":  "application/pdf",
	"json": ContentTypeJSON,
}

// ReportPath is the decoded form of a stored report artifact path.
type ReportPath struct {
	Owner    string
	ReportID string
	Ext      string
}

func (p ReportPath) String() string {
	return reportsPrefix + p.Owner + "/" + p.ReportID + "." + p.Ext
}

// ContentType returns the MIME type served for the artifact.
func (p ReportPath) ContentType() string {
	return reportContentTypes[p.Ext]
}

// EncodeReportPath builds reports/<owner>/<reportId>.<ext>.
func EncodeReportPath(owner, reportID, ext string) (string, error) {
	if !ownerPattern.MatchString(owner) {
		return "", fmt.Errorf("%w: owner %q", ErrInvalidReportPath, owner)
	}
	if !reportIDPattern.MatchString(reportID) {
		return "", fmt.Errorf("%w: report id %q", ErrInvalidReportPath, reportID)
	}
	if _, ok := reportContentTypes[ext]; !ok {
		return "", fmt.Errorf("%w: extension %q", ErrInvalidReportPath, ext)
	}
	return ReportPath{Owner: owner, ReportID: reportID, Ext: ext}.String(), nil
}

func DecodeReportPath(path string) (ReportPath, error) {
	m := reportPathPattern.FindStringSubmatch(path)
	if m == nil {
		return ReportPath{}, fmt.Errorf("%w: %q", ErrInvalidReportPath, path)
	}
	return ReportPath{Owner: m[1], ReportID: m[2], Ext: m[3]}, nil
}

// ReportOwnerPrefix is the listing prefix for everything one owner has stored.
func ReportOwnerPrefix(owner string) string {
	return reportsPrefix + owner + "/"
}
