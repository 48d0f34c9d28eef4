package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"imgpress/internal/config"
	"imgpress/internal/encoder"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	s := NewServer(config.DefaultConfig(), log, encoder.NewDefaultEncoder())
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return s, ts
}

func pngUpload(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: 99, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func postJSON(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response) APIResponse {
	t.Helper()
	defer resp.Body.Close()
	var out APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func createSession(t *testing.T, baseURL string) string {
	t.Helper()
	resp := postJSON(t, http.MethodPost, baseURL+"/api/sessions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeResponse(t, resp)
	require.True(t, out.Success)

	data, ok := out.Data.(map[string]interface{})
	require.True(t, ok)
	id, _ := data["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func uploadFile(t *testing.T, baseURL, sessionID, filename, mediaType string, content []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", mediaType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/sessions/"+sessionID+"/source", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func getSession(t *testing.T, baseURL, sessionID string) SessionInfo {
	t.Helper()
	resp, err := http.Get(baseURL + "/api/sessions/" + sessionID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()

	var out struct {
		Success bool        `json:"success"`
		Data    SessionInfo `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.True(t, out.Success)
	return out.Data
}

func waitForResult(t *testing.T, baseURL, sessionID string) SessionInfo {
	t.Helper()
	var info SessionInfo
	require.Eventually(t, func() bool {
		info = getSession(t, baseURL, sessionID)
		return info.Result != nil
	}, 5*time.Second, 25*time.Millisecond, "encode result never appeared")
	return info
}

func TestUploadAndCompressFlow(t *testing.T) {
	_, ts := newTestServer(t)
	id := createSession(t, ts.URL)

	resp := uploadFile(t, ts.URL, id, "photo.png", "image/png", pngUpload(t, 120, 90))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeResponse(t, resp)
	require.True(t, out.Success)

	info := waitForResult(t, ts.URL, id)
	require.NotNil(t, info.Source)
	assert.Equal(t, 120, info.Source.Width)
	assert.Equal(t, 90, info.Source.Height)

	require.NotNil(t, info.Params)
	assert.Equal(t, 80, info.Params.Quality)
	assert.Equal(t, "jpeg", info.Params.Format)
	assert.Equal(t, 120, info.Params.TargetWidth)
	assert.Equal(t, 90, info.Params.TargetHeight)
	assert.True(t, info.Params.AspectLocked)

	assert.Greater(t, info.Result.Size, int64(0))
	assert.Equal(t, "photo_compressed.jpg", info.Result.DownloadName)
}

func TestUploadRejectsNonImage(t *testing.T) {
	_, ts := newTestServer(t)
	id := createSession(t, ts.URL)

	resp := uploadFile(t, ts.URL, id, "notes.txt", "text/plain", []byte("hello"))
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	out := decodeResponse(t, resp)
	assert.False(t, out.Success)

	info := getSession(t, ts.URL, id)
	assert.Nil(t, info.Source)
}

func TestUpdateParamsAspectLock(t *testing.T) {
	_, ts := newTestServer(t)
	id := createSession(t, ts.URL)
	resp := uploadFile(t, ts.URL, id, "photo.png", "image/png", pngUpload(t, 400, 300))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	width := "200"
	resp = postJSON(t, http.MethodPatch, ts.URL+"/api/sessions/"+id+"/params", ParamsRequest{Width: &width})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	info := getSession(t, ts.URL, id)
	require.NotNil(t, info.Params)
	assert.Equal(t, 200, info.Params.TargetWidth)
	assert.Equal(t, 150, info.Params.TargetHeight)
}

func TestUpdateParamsInvalidDimensionFallsBack(t *testing.T) {
	_, ts := newTestServer(t)
	id := createSession(t, ts.URL)
	resp := uploadFile(t, ts.URL, id, "photo.png", "image/png", pngUpload(t, 400, 300))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Non-numeric input is normalized to the source dimension, not an error.
	width := "abc"
	resp = postJSON(t, http.MethodPatch, ts.URL+"/api/sessions/"+id+"/params", ParamsRequest{Width: &width})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	info := getSession(t, ts.URL, id)
	assert.Equal(t, 400, info.Params.TargetWidth)
	assert.Equal(t, 300, info.Params.TargetHeight)
}

func TestUpdateParamsUnsupportedFormat(t *testing.T) {
	_, ts := newTestServer(t)
	id := createSession(t, ts.URL)
	resp := uploadFile(t, ts.URL, id, "photo.png", "image/png", pngUpload(t, 40, 30))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	format := "bmp"
	resp = postJSON(t, http.MethodPatch, ts.URL+"/api/sessions/"+id+"/params", ParamsRequest{Format: &format})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestUpdateParamsDimensionsWithoutSource(t *testing.T) {
	_, ts := newTestServer(t)
	id := createSession(t, ts.URL)

	width := "100"
	resp := postJSON(t, http.MethodPatch, ts.URL+"/api/sessions/"+id+"/params", ParamsRequest{Width: &width})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestDownload(t *testing.T) {
	_, ts := newTestServer(t)
	id := createSession(t, ts.URL)
	resp := uploadFile(t, ts.URL, id, "holiday.png", "image/png", pngUpload(t, 64, 64))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	waitForResult(t, ts.URL, id)

	resp, err := http.Get(ts.URL + "/api/sessions/" + id + "/download")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), `holiday_compressed.jpg`)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_, format, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestDownloadWithoutResult(t *testing.T) {
	_, ts := newTestServer(t)
	id := createSession(t, ts.URL)

	resp, err := http.Get(ts.URL + "/api/sessions/" + id + "/download")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestReset(t *testing.T) {
	_, ts := newTestServer(t)
	id := createSession(t, ts.URL)
	resp := uploadFile(t, ts.URL, id, "photo.png", "image/png", pngUpload(t, 32, 32))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	waitForResult(t, ts.URL, id)

	resp = postJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/reset", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	info := getSession(t, ts.URL, id)
	assert.Nil(t, info.Source)
	assert.Nil(t, info.Result)
}

func TestUnknownSession(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/sessions/nope")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, http.MethodPatch, ts.URL+"/api/sessions/nope/params", ParamsRequest{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestDeleteSession(t *testing.T) {
	_, ts := newTestServer(t)
	id := createSession(t, ts.URL)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/"+id, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/sessions/" + id)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestStatisticsEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	id := createSession(t, ts.URL)
	resp := uploadFile(t, ts.URL, id, "photo.png", "image/png", pngUpload(t, 16, 16))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/api/statistics")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeResponse(t, resp)
	require.True(t, out.Success)

	data, ok := out.Data.(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 1, data["sources_loaded"])
	assert.EqualValues(t, 1, data["active_sessions"])
}

func TestIndex(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	out := decodeResponse(t, resp)
	require.True(t, out.Success)

	data, ok := out.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, data, "formats")
}

func TestWebSocketBroadcastsEncodeCompleted(t *testing.T) {
	_, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	id := createSession(t, ts.URL)
	upload := uploadFile(t, ts.URL, id, "photo.png", "image/png", pngUpload(t, 80, 60))
	require.Equal(t, http.StatusOK, upload.StatusCode)
	upload.Body.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg WSMessage
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "no encode push arrived")
		require.NoError(t, json.Unmarshal(raw, &msg))
		if msg.Type == "encode_completed" {
			break
		}
	}

	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, id, data["session_id"])
	assert.Equal(t, "photo_compressed.jpg", data["download_name"])
	assert.Contains(t, data, "savings_percent")
	assert.Contains(t, data, "size_display")
}

func TestSavingsDisplay(t *testing.T) {
	assert.Equal(t, "25% smaller", savingsDisplay(25))
	assert.Equal(t, "0% smaller", savingsDisplay(0))
	assert.Equal(t, "20% larger", savingsDisplay(-20))
}
