package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	DefaultDriveAPIURL    = "https://www.googleapis.com/drive/v3"
	DefaultDriveUploadURL = "https://www.googleapis.com/upload/drive/v3"

	driveFolderMimeType   = "application/vnd.google-apps.folder"
	driveRootParent       = "root"
	defaultReadAttempts   = 3
	defaultRetryBaseDelay = 200 * time.Millisecond
	maxErrorBodyBytes     = 512
	drivePageSize         = 1000
)

// DriveConfig describes the dependencies of the Google Drive gateway.
type DriveConfig struct {
	APIURL       string
	UploadURL    string
	Tokens       oauth2.TokenSource
	HTTPClient   *http.Client
	ReadAttempts uint64
	RetryDelay   time.Duration
	Logger       *zap.Logger
}

// Drive talks to the Google Drive v3 REST API. Reads are retried on transport failures
// and 5xx responses; writes are attempted once since a retried upload creates a duplicate.
type Drive struct {
	apiURL       string
	uploadURL    string
	tokens       oauth2.TokenSource
	httpClient   *http.Client
	readAttempts uint64
	retryDelay   time.Duration
	logger       *zap.Logger
}

// NewDrive constructs a Drive gateway.
func NewDrive(cfg DriveConfig) *Drive {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = DefaultDriveAPIURL
	}
	uploadURL := strings.TrimRight(cfg.UploadURL, "/")
	if uploadURL == "" {
		uploadURL = DefaultDriveUploadURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	attempts := cfg.ReadAttempts
	if attempts == 0 {
		attempts = defaultReadAttempts
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = defaultRetryBaseDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Drive{
		apiURL:       apiURL,
		uploadURL:    uploadURL,
		tokens:       cfg.Tokens,
		httpClient:   httpClient,
		readAttempts: attempts,
		retryDelay:   delay,
		logger:       logger,
	}
}

type driveFileList struct {
	Files         []Object `json:"files"`
	NextPageToken string   `json:"nextPageToken"`
}

func (d *Drive) EnsureFolder(ctx context.Context, name, parentID string) (string, error) {
	const operation = "ensure_folder"
	if parentID == "" {
		parentID = driveRootParent
	}
	query := fmt.Sprintf("mimeType='%s' and name='%s' and '%s' in parents and trashed=false",
		driveFolderMimeType, escapeQueryValue(name), escapeQueryValue(parentID))
	found, err := d.search(ctx, operation, query)
	if err != nil {
		return "", err
	}
	if len(found) > 0 {
		return found[0].ID, nil
	}

	metadata, err := json.Marshal(map[string]any{
		"name":     name,
		"mimeType": driveFolderMimeType,
		"parents":  []string{parentID},
	})
	if err != nil {
		return "", err
	}
	var created Object
	err = d.do(ctx, operation, http.MethodPost, d.apiURL+"/files?fields=id,name", ContentTypeJSON, metadata, &created)
	if err != nil {
		return "", err
	}
	d.logger.Info("remote folder created", zap.String("name", name), zap.String("folder_id", created.ID))
	return created.ID, nil
}

func (d *Drive) UploadBlob(ctx context.Context, folderID, fileName string, data []byte, contentType string) (Object, error) {
	const operation = "upload_blob"
	body, boundaryType, err := multipartRelated(fileName, folderID, data, contentType)
	if err != nil {
		return Object{}, err
	}
	var uploaded Object
	endpoint := d.uploadURL + "/files?uploadType=multipart&fields=id,name"
	if err := d.do(ctx, operation, http.MethodPost, endpoint, boundaryType, body, &uploaded); err != nil {
		return Object{}, err
	}
	return uploaded, nil
}

func (d *Drive) ListJSONObjects(ctx context.Context, folderID string) ([]Object, error) {
	query := fmt.Sprintf("'%s' in parents and mimeType='%s' and trashed=false", escapeQueryValue(folderID), ContentTypeJSON)
	return d.search(ctx, "list_json_objects", query)
}

func (d *Drive) DownloadObject(ctx context.Context, objectID string) ([]byte, error) {
	const operation = "download_object"
	endpoint := d.apiURL + "/files/" + url.PathEscape(objectID) + "?alt=media"
	var payload []byte
	err := d.withReadRetry(ctx, func(ctx context.Context) error {
		var raw bytes.Buffer
		if err := d.do(ctx, operation, http.MethodGet, endpoint, "", nil, &raw); err != nil {
			return err
		}
		payload = raw.Bytes()
		return nil
	})
	return payload, err
}

// search follows nextPageToken until the listing is exhausted.
func (d *Drive) search(ctx context.Context, operation, query string) ([]Object, error) {
	var found []Object
	pageToken := ""
	for {
		values := url.Values{}
		values.Set("q", query)
		values.Set("fields", "nextPageToken,files(id,name)")
		values.Set("spaces", "drive")
		values.Set("pageSize", strconv.Itoa(drivePageSize))
		if pageToken != "" {
			values.Set("pageToken", pageToken)
		}
		endpoint := d.apiURL + "/files?" + values.Encode()

		var listing driveFileList
		err := d.withReadRetry(ctx, func(ctx context.Context) error {
			listing = driveFileList{}
			return d.do(ctx, operation, http.MethodGet, endpoint, "", nil, &listing)
		})
		if err != nil {
			return nil, err
		}
		found = append(found, listing.Files...)
		if listing.NextPageToken == "" {
			return found, nil
		}
		pageToken = listing.NextPageToken
	}
}

func (d *Drive) withReadRetry(ctx context.Context, call func(context.Context) error) error {
	backoff := retry.WithMaxRetries(d.readAttempts-1, retry.NewExponential(d.retryDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := call(ctx)
		if err == nil {
			return nil
		}
		if status, ok := IsRemoteRejected(err); (ok && status >= http.StatusInternalServerError) || IsNetworkFailure(err) {
			d.logger.Debug("retrying remote read", zap.Error(err))
			return retry.RetryableError(err)
		}
		return err
	})
}

// do performs one authorized request. out may be a *bytes.Buffer for raw bodies or any
// JSON-decodable value.
func (d *Drive) do(ctx context.Context, operation, method, endpoint, contentType string, body []byte, out any) error {
	token, err := bearer(d.tokens)
	if err != nil {
		return err
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	token.SetAuthHeader(request)
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}

	response, err := d.httpClient.Do(request)
	if err != nil {
		return &NetworkFailure{Operation: operation, Err: err}
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: remote returned 401", ErrUnauthenticated)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		return &RemoteRejected{Operation: operation, Status: response.StatusCode, Message: strings.TrimSpace(string(snippet))}
	}

	switch target := out.(type) {
	case nil:
		return nil
	case *bytes.Buffer:
		if _, err := io.Copy(target, response.Body); err != nil {
			return &NetworkFailure{Operation: operation, Err: err}
		}
		return nil
	default:
		if err := json.NewDecoder(response.Body).Decode(target); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				return &RemoteRejected{Operation: operation, Status: response.StatusCode, Message: "malformed response body"}
			}
			return &NetworkFailure{Operation: operation, Err: err}
		}
		return nil
	}
}

// multipartRelated builds a Drive multipart upload body: JSON metadata then the media.
func multipartRelated(fileName, folderID string, data []byte, contentType string) ([]byte, string, error) {
	metadata, err := json.Marshal(map[string]any{"name": fileName, "parents": []string{folderID}})
	if err != nil {
		return nil, "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var buffer bytes.Buffer
	writer := multipart.NewWriter(&buffer)
	metadataPart, err := writer.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return nil, "", err
	}
	if _, err := metadataPart.Write(metadata); err != nil {
		return nil, "", err
	}
	mediaPart, err := writer.CreatePart(textproto.MIMEHeader{"Content-Type": {contentType}})
	if err != nil {
		return nil, "", err
	}
	if _, err := mediaPart.Write(data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buffer.Bytes(), "multipart/related; boundary=" + writer.Boundary(), nil
}

func escapeQueryValue(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, `'`, `\'`)
}
