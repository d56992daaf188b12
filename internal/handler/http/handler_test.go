package http_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/juju/clock/testclock"
	jc "github.com/juju/testing/checkers"
	"github.com/prometheus/client_golang/prometheus"
	gc "gopkg.in/check.v1"

	httphandler "prudo-grid/internal/handler/http"
	"prudo-grid/internal/service"
	"prudo-grid/internal/store"
	"prudo-grid/internal/subscriber"
)

type handlerSuite struct {
	root       string
	detections *store.DetectionStore
	registry   *subscriber.Registry
	server     *httptest.Server
}

var _ = gc.Suite(&handlerSuite{})

func (s *handlerSuite) SetUpTest(c *gc.C) {
	s.startServer(c, clock.WallClock, 0)
}

func (s *handlerSuite) startServer(c *gc.C, clk clock.Clock, heartbeat time.Duration) {
	s.root = c.MkDir()
	s.detections = store.NewDetectionStore(s.root)
	s.registry = subscriber.NewRegistry(4, nil)

	detector, err := service.NewDetectorService(service.Config{
		Model:                  stubModel{},
		Store:                  s.detections,
		Publisher:              s.registry,
		MaxConcurrentInference: 1,
	})
	c.Assert(err, jc.ErrorIsNil)

	handler, err := httphandler.NewHandler(httphandler.Config{
		Detector:          detector,
		Detections:        s.detections,
		Profiles:          store.NewProfileStore(s.root),
		Registry:          s.registry,
		Clock:             clk,
		HeartbeatInterval: heartbeat,
		MaxUploadBytes:    1 << 20,
	})
	c.Assert(err, jc.ErrorIsNil)

	reg := prometheus.NewRegistry()
	s.server = httptest.NewServer(httphandler.NewRouter(handler, reg, ""))
}

func (s *handlerSuite) TearDownTest(c *gc.C) {
	s.registry.Close()
	s.server.Close()
}

func (s *handlerSuite) detect(c *gc.C, userID string) map[string]interface{} {
	status, body := postDetect(c, s.server.URL, map[string]string{
		"user_id":     userID,
		"x_divisions": "5",
		"y_divisions": "4",
	}, pngImage(c, 1000, 800))
	c.Assert(status, gc.Equals, http.StatusOK, gc.Commentf("%v", body))
	return body
}

func (s *handlerSuite) TestStreamReceivesOwnResultsOnly(c *gc.C) {
	alice := openStream(c, s.server.URL, "alice")
	defer alice.close()

	body := s.detect(c, "alice")
	c.Assert(body["status"], gc.Equals, "success")
	c.Assert(body["delivered"], gc.Equals, true)

	stored, err := s.detections.Read("alice")
	c.Assert(err, jc.ErrorIsNil)
	compact, err := stored.Compact()
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(alice.next(c), gc.Equals, "data: "+string(compact))
	c.Assert(stored["3-4"], gc.HasLen, 1)

	body = s.detect(c, "bob")
	c.Assert(body["delivered"], gc.Equals, false)

	// следующее событие снова от alice: событий bob в потоке не было
	s.detect(c, "alice")
	c.Assert(alice.next(c), gc.Equals, "data: "+string(compact))
}

func (s *handlerSuite) TestDetectInvalidGridHasNoSideEffects(c *gc.C) {
	alice := openStream(c, s.server.URL, "alice")
	defer alice.close()

	status, body := postDetect(c, s.server.URL, map[string]string{
		"user_id":     "alice",
		"x_divisions": "0",
		"y_divisions": "4",
	}, pngImage(c, 1000, 800))
	c.Assert(status, gc.Equals, http.StatusBadRequest)
	c.Assert(body["error"], gc.Matches, ".*x_divisions.*")

	exists, err := s.detections.Exists("alice")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(exists, jc.IsFalse)

	s.detect(c, "alice")
	c.Assert(alice.next(c), gc.Matches, `data: \{"0-0":\[\].*`)
}

func (s *handlerSuite) TestDetectBadRequests(c *gc.C) {
	img := pngImage(c, 100, 100)
	for _, t := range []struct {
		fields map[string]string
		image  []byte
	}{
		{map[string]string{"user_id": "../x", "x_divisions": "5", "y_divisions": "4"}, img},
		{map[string]string{"x_divisions": "5", "y_divisions": "4"}, img},
		{map[string]string{"user_id": "alice", "x_divisions": "five", "y_divisions": "4"}, img},
		{map[string]string{"user_id": "alice", "x_divisions": "5", "y_divisions": "-1"}, img},
		{map[string]string{"user_id": "alice", "x_divisions": "5", "y_divisions": "4"}, nil},
		{map[string]string{"user_id": "alice", "x_divisions": "5", "y_divisions": "4"}, []byte("garbage")},
	} {
		status, _ := postDetect(c, s.server.URL, t.fields, t.image)
		c.Check(status, gc.Equals, http.StatusBadRequest, gc.Commentf("%v", t.fields))
	}
	entries, err := os.ReadDir(s.root)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(entries, gc.HasLen, 0)
}

func (s *handlerSuite) TestUserData(c *gc.C) {
	dir := filepath.Join(s.root, "alice")
	c.Assert(os.MkdirAll(dir, 0755), jc.ErrorIsNil)
	err := os.WriteFile(filepath.Join(dir, store.ProfileFilename),
		[]byte(`{"id":"alice","nickname":"Alice","level":2,"exp":40,"hashed_password":"x"}`), 0644)
	c.Assert(err, jc.ErrorIsNil)
	s.detect(c, "alice")

	status, body := postForm(c, s.server.URL+"/user_data/", map[string][]string{"user_id": {"alice"}})
	c.Assert(status, gc.Equals, http.StatusOK)
	c.Assert(body["id"], gc.Equals, "alice")
	c.Assert(body["nickname"], gc.Equals, "Alice")
	c.Assert(body["level"], gc.Equals, 2.0)
	c.Assert(body["exp"], gc.Equals, 40.0)
	_, leaked := body["hashed_password"]
	c.Assert(leaked, jc.IsFalse)

	grid, ok := body["detection_data"].(map[string]interface{})
	c.Assert(ok, jc.IsTrue)
	c.Assert(grid, gc.HasLen, 20)
	c.Assert(grid["3-4"], jc.DeepEquals, []interface{}{
		map[string]interface{}{"sector_row": 3.0, "sector_col": 4.0, "Lv": "LL", "type": "orc"},
	})
}

func (s *handlerSuite) TestUserDataOnlyDetections(c *gc.C) {
	s.detect(c, "bob")
	status, body := postForm(c, s.server.URL+"/user_data/", map[string][]string{"user_id": {"bob"}})
	c.Assert(status, gc.Equals, http.StatusOK)
	c.Assert(body["nickname"], gc.IsNil)
	c.Assert(body["detection_data"], gc.NotNil)
}

func (s *handlerSuite) TestUserDataNotFound(c *gc.C) {
	status, _ := postForm(c, s.server.URL+"/user_data/", map[string][]string{"user_id": {"nobody"}})
	c.Assert(status, gc.Equals, http.StatusNotFound)

	status, _ = postForm(c, s.server.URL+"/user_data/", map[string][]string{"user_id": {"a/b"}})
	c.Assert(status, gc.Equals, http.StatusBadRequest)
}

func (s *handlerSuite) writeProfile(c *gc.C, userID, content string) {
	dir := filepath.Join(s.root, userID)
	c.Assert(os.MkdirAll(dir, 0755), jc.ErrorIsNil)
	c.Assert(os.WriteFile(filepath.Join(dir, store.ProfileFilename), []byte(content), 0644), jc.ErrorIsNil)
}

func (s *handlerSuite) TestUserDataCorruptProfileCountsAsPresent(c *gc.C) {
	s.writeProfile(c, "carol", "{not json")

	status, body := postForm(c, s.server.URL+"/user_data/", map[string][]string{"user_id": {"carol"}})
	c.Assert(status, gc.Equals, http.StatusOK, gc.Commentf("%v", body))
	c.Assert(body["id"], gc.Equals, "carol")
	c.Assert(body["nickname"], gc.IsNil)
	c.Assert(body["level"], gc.IsNil)
	c.Assert(body["exp"], gc.IsNil)
	c.Assert(body["detection_data"], gc.IsNil)
}

func (s *handlerSuite) TestUserDataPartialProfile(c *gc.C) {
	s.writeProfile(c, "dave", `{"id":"dave"}`)

	status, body := postForm(c, s.server.URL+"/user_data/", map[string][]string{"user_id": {"dave"}})
	c.Assert(status, gc.Equals, http.StatusOK, gc.Commentf("%v", body))
	for _, field := range []string{"nickname", "level", "exp"} {
		value, ok := body[field]
		c.Check(ok, jc.IsTrue, gc.Commentf("%s", field))
		c.Check(value, gc.IsNil, gc.Commentf("%s", field))
	}
}

func (s *handlerSuite) TestUserDataCorruptDetections(c *gc.C) {
	dir := filepath.Join(s.root, "alice")
	c.Assert(os.MkdirAll(dir, 0755), jc.ErrorIsNil)
	c.Assert(os.WriteFile(filepath.Join(dir, store.DetectionFilename), []byte("{oops"), 0644), jc.ErrorIsNil)

	status, body := postForm(c, s.server.URL+"/user_data/", map[string][]string{"user_id": {"alice"}})
	c.Assert(status, gc.Equals, http.StatusInternalServerError)
	c.Assert(body["error"], gc.Matches, ".*parsing grid result.*")
}

func (s *handlerSuite) TestStreamDisconnectUnregisters(c *gc.C) {
	alice := openStream(c, s.server.URL, "alice")
	c.Assert(s.registry.Subscribed("alice"), jc.IsTrue)

	alice.close()
	waitFor(c, "unregister", func() bool { return s.registry.Len() == 0 })
}

func (s *handlerSuite) TestReconnectSupersedes(c *gc.C) {
	first := openStream(c, s.server.URL, "alice")
	defer first.close()
	second := openStream(c, s.server.URL, "alice")
	defer second.close()

	first.waitClosed(c)
	c.Assert(s.registry.Len(), gc.Equals, 1)

	s.detect(c, "alice")
	c.Assert(second.next(c), gc.Matches, "data: .*")
}

func (s *handlerSuite) TestStreamInvalidUserID(c *gc.C) {
	resp, err := http.Get(s.server.URL + "/detection_stream/al:ice")
	c.Assert(err, jc.ErrorIsNil)
	defer resp.Body.Close()
	c.Assert(resp.StatusCode, gc.Equals, http.StatusBadRequest)
	c.Assert(s.registry.Len(), gc.Equals, 0)
}

func (s *handlerSuite) TestHealthAndMetrics(c *gc.C) {
	resp, err := http.Get(s.server.URL + "/health")
	c.Assert(err, jc.ErrorIsNil)
	body := decodeBody(c, resp.Body)
	resp.Body.Close()
	c.Assert(body, jc.DeepEquals, map[string]interface{}{"status": "ok"})

	resp, err = http.Get(s.server.URL + "/metrics")
	c.Assert(err, jc.ErrorIsNil)
	resp.Body.Close()
	c.Assert(resp.StatusCode, gc.Equals, http.StatusOK)
}

func (s *handlerSuite) TestCORSPreflight(c *gc.C) {
	req, err := http.NewRequest(http.MethodOptions, s.server.URL+"/detect/", nil)
	c.Assert(err, jc.ErrorIsNil)
	resp, err := http.DefaultClient.Do(req)
	c.Assert(err, jc.ErrorIsNil)
	resp.Body.Close()
	c.Assert(resp.StatusCode, gc.Equals, http.StatusOK)
	c.Assert(resp.Header.Get("Access-Control-Allow-Origin"), gc.Equals, "*")
}

type heartbeatSuite struct {
	base  handlerSuite
	clock *testclock.Clock
}

var _ = gc.Suite(&heartbeatSuite{})

func (s *heartbeatSuite) SetUpTest(c *gc.C) {
	s.clock = testclock.NewClock(time.Time{})
	s.base.startServer(c, s.clock, 15*time.Second)
}

func (s *heartbeatSuite) TearDownTest(c *gc.C) {
	s.base.TearDownTest(c)
}

func (s *heartbeatSuite) TestHeartbeat(c *gc.C) {
	alice := openStream(c, s.base.server.URL, "alice")
	defer alice.close()

	c.Assert(s.clock.WaitAdvance(15*time.Second, longWait, 1), jc.ErrorIsNil)
	c.Assert(alice.next(c), gc.Equals, ": ping")
}
