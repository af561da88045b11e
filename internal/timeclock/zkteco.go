package timeclock

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ZKTecoAPIError is a non-2xx response from the device API. 401 means the
// cached token expired and should be invalidated.
type ZKTecoAPIError struct {
	Status int
	Detail string
}

func (e ZKTecoAPIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("zkteco api error: status=%d", e.Status)
	}
	return fmt.Sprintf("zkteco api error: status=%d detail=%s", e.Status, e.Detail)
}

func IsZKTecoAuthError(err error) bool {
	var apiErr ZKTecoAPIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// ZKTecoClient talks to a BioTime-style device server: token auth plus a
// paged transactions endpoint.
type ZKTecoClient struct {
	BaseURL    string
	Username   string
	Password   string
	HTTPClient *http.Client
}

func NewZKTecoClient(baseURL string, username string, password string, httpClient *http.Client) *ZKTecoClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ZKTecoClient{
		BaseURL:    baseURL,
		Username:   username,
		Password:   password,
		HTTPClient: httpClient,
	}
}

type zktecoTokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type zktecoTokenResponse struct {
	Token string `json:"token"`
}

func (c *ZKTecoClient) GetToken(ctx context.Context) (string, error) {
	username := strings.TrimSpace(c.Username)
	if username == "" {
		return "", errors.New("zkteco username is required")
	}
	password := c.Password
	if password == "" {
		return "", errors.New("zkteco password is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if baseURL == "" {
		return "", errors.New("zkteco base_url is required")
	}

	reqBody, _ := json.Marshal(zktecoTokenRequest{Username: username, Password: password})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api-token-auth/", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", ZKTecoAPIError{Status: resp.StatusCode, Detail: strings.TrimSpace(string(body))}
	}

	var tr zktecoTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", err
	}
	if strings.TrimSpace(tr.Token) == "" {
		return "", errors.New("zkteco token endpoint returned empty token")
	}
	return tr.Token, nil
}

// zktecoTokenTTL bounds how long a token is reused. The device API does not
// report expiry, so the source refreshes on this interval or on a 401.
const zktecoTokenTTL = 8 * time.Hour

type ZKTecoTokenSource struct {
	client *ZKTecoClient
	now    func() time.Time

	token     string
	expiresAt time.Time
}

func NewZKTecoTokenSource(client *ZKTecoClient) *ZKTecoTokenSource {
	return &ZKTecoTokenSource{client: client, now: time.Now}
}

func (s *ZKTecoTokenSource) Invalidate() {
	s.token = ""
	s.expiresAt = time.Time{}
}

func (s *ZKTecoTokenSource) Token(ctx context.Context) (string, error) {
	if s.token != "" && s.now().Before(s.expiresAt) {
		return s.token, nil
	}

	token, err := s.client.GetToken(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	s.expiresAt = s.now().Add(zktecoTokenTTL)
	return s.token, nil
}

type ZKTecoTransaction struct {
	ID            int64  `json:"id"`
	EmpCode       string `json:"emp_code"`
	PunchTime     string `json:"punch_time"`
	PunchState    string `json:"punch_state"`
	TerminalSN    string `json:"terminal_sn"`
	TerminalAlias string `json:"terminal_alias"`
}

type zktecoTransactionsResponse struct {
	Count int                 `json:"count"`
	Next  string              `json:"next"`
	Data  []ZKTecoTransaction `json:"data"`
}

// GetTransactions fetches one page of punch transactions in the window.
// hasNext tells the caller whether another page follows.
func (c *ZKTecoClient) GetTransactions(ctx context.Context, accessToken string, start time.Time, end time.Time, page int, pageSize int) (txns []ZKTecoTransaction, hasNext bool, _ error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, false, errors.New("zkteco access token is required")
	}
	if start.IsZero() || end.IsZero() || start.After(end) {
		return nil, false, errors.New("zkteco invalid start/end time")
	}
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 1000 {
		pageSize = 200
	}
	baseURL := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if baseURL == "" {
		return nil, false, errors.New("zkteco base_url is required")
	}

	u, err := url.Parse(baseURL + "/iclock/api/transactions/")
	if err != nil {
		return nil, false, err
	}
	q := u.Query()
	q.Set("start_time", start.Format("2006-01-02 15:04:05"))
	q.Set("end_time", end.Format("2006-01-02 15:04:05"))
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	u.RawQuery = q.Encode()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	req.Header.Set("Authorization", "Token "+accessToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, false, ZKTecoAPIError{Status: resp.StatusCode, Detail: strings.TrimSpace(string(body))}
	}

	var tr zktecoTransactionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, false, err
	}
	return tr.Data, strings.TrimSpace(tr.Next) != "", nil
}

// BuildZKTecoPunches converts device transactions into punches. Punch times
// on the wire are local to the device, so the caller supplies the location.
// Transactions whose state is neither check-in nor check-out are dropped.
func BuildZKTecoPunches(transactions []ZKTecoTransaction, loc *time.Location) ([]DevicePunch, error) {
	if loc == nil {
		loc = time.UTC
	}

	out := make([]DevicePunch, 0, len(transactions))
	for _, t := range transactions {
		empCode := strings.TrimSpace(t.EmpCode)
		if empCode == "" {
			return nil, errors.New("emp_code is required")
		}
		if t.ID <= 0 {
			return nil, errors.New("transaction id must be > 0")
		}

		var punchType string
		switch strings.TrimSpace(t.PunchState) {
		case "0":
			punchType = "IN"
		case "1":
			punchType = "OUT"
		default:
			continue
		}

		punchTime, err := time.ParseInLocation("2006-01-02 15:04:05", strings.TrimSpace(t.PunchTime), loc)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: invalid punch_time %q", t.ID, t.PunchTime)
		}

		deviceID := strings.TrimSpace(t.TerminalSN)
		if deviceID == "" {
			deviceID = "zkteco"
		}
		requestID := "zkteco:transaction:" + strconv.FormatInt(t.ID, 10)

		payload := map[string]any{
			"source_provider": ProviderZKTeco,
			"transaction_id":  t.ID,
			"device_user_id":  empCode,
			"punch_state":     strings.TrimSpace(t.PunchState),
		}
		if alias := strings.TrimSpace(t.TerminalAlias); alias != "" {
			payload["terminal_alias"] = alias
		}
		payloadJSON, _ := json.Marshal(payload)

		out = append(out, DevicePunch{
			Provider:        ProviderZKTeco,
			DeviceUserID:    empCode,
			DeviceID:        deviceID,
			PunchTime:       punchTime.UTC(),
			PunchType:       punchType,
			RequestID:       requestID,
			Payload:         payloadJSON,
			LastSeenPayload: payloadJSON,
		})
	}
	return out, nil
}
