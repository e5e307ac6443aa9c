package lua

import (
	"errors"
	"testing"

	"github.com/srg/museb/internal/bridge"
	"github.com/srg/museb/internal/testutils"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type mockBridge struct {
	mock.Mock
}

func (m *mockBridge) RegisterDeviceListListener(receiverID, handler string) bridge.Token {
	return m.Called(receiverID, handler).Get(0).(bridge.Token)
}

func (m *mockBridge) RegisterConnectionListener(receiverID, handler string) bridge.Token {
	return m.Called(receiverID, handler).Get(0).(bridge.Token)
}

func (m *mockBridge) RegisterDataListener(receiverID, handler string) bridge.Token {
	return m.Called(receiverID, handler).Get(0).(bridge.Token)
}

func (m *mockBridge) RegisterArtifactListener(receiverID, handler string) bridge.Token {
	return m.Called(receiverID, handler).Get(0).(bridge.Token)
}

func (m *mockBridge) Unsubscribe(token bridge.Token) bool {
	return m.Called(token).Bool(0)
}

func (m *mockBridge) ListenForDataPacket(name string) error {
	return m.Called(name).Error(0)
}

func (m *mockBridge) StartScan() error  { return m.Called().Error(0) }
func (m *mockBridge) StopScan() error   { return m.Called().Error(0) }
func (m *mockBridge) Disconnect() error { return m.Called().Error(0) }

func (m *mockBridge) Connect(name string) error {
	return m.Called(name).Error(0)
}

func (m *mockBridge) Version() string {
	return m.Called().String(0)
}

func (m *mockBridge) State() bridge.SessionState {
	return m.Called().Get(0).(bridge.SessionState)
}

type HostTestSuite struct {
	suite.Suite

	engine    *Engine
	host      *Host
	bridge    *mockBridge
	collector *OutputCollector
}

func (s *HostTestSuite) SetupTest() {
	logger := testutils.QuietLogger()
	s.engine = NewEngine(logger, 64)
	s.host = NewHost(s.engine, logger)
	s.bridge = &mockBridge{}
	s.host.Bind(s.bridge)

	c, err := NewOutputCollector(s.engine.OutputChannel(), 64, nil)
	s.Require().NoError(err)
	s.Require().NoError(c.Start())
	s.collector = c
}

func (s *HostTestSuite) TearDownTest() {
	s.engine.Close()
	s.Require().NoError(s.collector.Stop())
}

func (s *HostTestSuite) exec(script string) {
	s.Require().NoError(s.engine.Execute(script, "host-test"))
}

func (s *HostTestSuite) global(name string) string {
	v, err := s.engine.GetGlobalString(name)
	s.Require().NoError(err, "global %s MUST be a string", name)
	return v
}

func (s *HostTestSuite) stderr() string {
	s.engine.Close()
	<-s.collector.Done()
	out, err := ConsumeRecords(s.collector, PlainTextConsumer(SourceStderr))
	s.Require().NoError(err)
	return out
}

func (s *HostTestSuite) TestSendCallsHandlerAsMethod() {
	// GOAL: Verify Send calls receiver:handler(payload) with the receiver table as self
	//
	// TEST SCENARIO: app.on_data stores self.tag and the payload → both globals set

	s.exec(`
		app = { tag = "app" }
		function app:on_data(payload)
			seen_self = self.tag
			seen_payload = payload
		end
	`)

	s.Require().NoError(s.host.Send("app", "on_data", `{"DataPacketType":"EEG"}`))

	s.Equal("app", s.global("seen_self"))
	s.Equal(`{"DataPacketType":"EEG"}`, s.global("seen_payload"))
}

func (s *HostTestSuite) TestSendToMissingReceiver() {
	err := s.host.Send("ghost", "on_data", "{}")

	var herr *HandlerError
	s.Require().True(errors.As(err, &herr))
	s.Equal("ghost", herr.Receiver)
	s.Contains(s.stderr(), "cannot deliver to ghost:on_data")
}

func (s *HostTestSuite) TestSendToMissingHandler() {
	s.exec(`app = {}`)

	err := s.host.Send("app", "on_nothing", "{}")

	var herr *HandlerError
	s.Require().True(errors.As(err, &herr))
	s.Equal("handler is not a function", herr.Reason)
}

func (s *HostTestSuite) TestHandlerErrorIsReported() {
	s.exec(`
		app = {}
		function app:on_data(p) error("bad sample") end
	`)

	err := s.host.Send("app", "on_data", "{}")

	var luaErr *LuaError
	s.Require().True(errors.As(err, &luaErr))
	s.Equal("runtime", luaErr.Type)
	s.Equal("app:on_data", luaErr.Source)
	s.Contains(s.stderr(), "bad sample")
}

func (s *HostTestSuite) TestRegisterReturnsToken() {
	s.bridge.On("RegisterDataListener", "app", "on_data").Return(bridge.Token("tok-1")).Once()
	s.bridge.On("RegisterArtifactListener", "app", "on_artifact").Return(bridge.Token("tok-2")).Once()
	s.bridge.On("RegisterConnectionListener", "app", "on_connection").Return(bridge.Token("tok-3")).Once()
	s.bridge.On("RegisterDeviceListListener", "app", "on_devices").Return(bridge.Token("tok-4")).Once()
	s.bridge.On("Unsubscribe", bridge.Token("tok-1")).Return(true).Once()

	s.exec(`
		t1 = muse.register_data_listener("app", "on_data")
		t2 = muse.register_artifact_listener("app", "on_artifact")
		t3 = muse.register_connection_listener("app", "on_connection")
		t4 = muse.register_device_list_listener("app", "on_devices")
		removed = tostring(muse.unsubscribe(t1))
	`)

	s.Equal("tok-1", s.global("t1"))
	s.Equal("tok-4", s.global("t4"))
	s.Equal("true", s.global("removed"))
	s.bridge.AssertExpectations(s.T())
}

func (s *HostTestSuite) TestOperationsFollowLuaErrorConvention() {
	// GOAL: Verify bridge errors come back as nil plus message instead of raising
	//
	// TEST SCENARIO: listen_for_data_packet("TELEPATHY") fails, connect succeeds

	s.bridge.On("ListenForDataPacket", "TELEPATHY").Return(&bridge.UnrecognizedCategoryError{Name: "TELEPATHY"})
	s.bridge.On("Connect", "Muse-A").Return(nil)

	s.exec(`
		ok, err = muse.listen_for_data_packet("TELEPATHY")
		ok = tostring(ok)
		connected = tostring(muse.connect("Muse-A"))
	`)

	s.Equal("nil", s.global("ok"))
	s.Contains(s.global("err"), `unrecognized data packet category "TELEPATHY"`)
	s.Equal("true", s.global("connected"))
}

func (s *HostTestSuite) TestScanAndSessionCalls() {
	s.bridge.On("StartScan").Return(nil).Once()
	s.bridge.On("StopScan").Return(nil).Once()
	s.bridge.On("Disconnect").Return(bridge.ErrNotConnected).Once()
	s.bridge.On("Version").Return("museb-replay/1.0").Once()
	s.bridge.On("State").Return(bridge.Scanning).Once()

	s.exec(`
		started = tostring(muse.start_listening())
		stopped = tostring(muse.stop_listening())
		_, disconnect_err = muse.disconnect()
		version = muse.version()
		state = muse.state()
	`)

	s.Equal("true", s.global("started"))
	s.Equal("true", s.global("stopped"))
	s.Contains(s.global("disconnect_err"), "connect first")
	s.Equal("museb-replay/1.0", s.global("version"))
	s.Equal("scanning", s.global("state"))
	s.bridge.AssertExpectations(s.T())
}

func (s *HostTestSuite) TestCategories() {
	s.exec(`
		local c = muse.categories()
		count = tostring(#c)
		first = c[1]
		last = c[#c]
	`)

	s.Equal("23", s.global("count"))
	s.Equal("ACCELEROMETER", s.global("first"))
	s.Equal("ARTIFACTS", s.global("last"))
}

func (s *HostTestSuite) TestDecode() {
	s.exec(`
		local p = muse.decode('{"DataPacketType":"EEG","DataPacketValue":[1,0,3],"TimeStamp":7}')
		kind = p.DataPacketType
		second = tostring(p.DataPacketValue[2])
		size = tostring(#p.DataPacketValue)
		local bad, msg = muse.decode("{nope")
		bad_msg = tostring(bad) .. " " .. msg
	`)

	s.Equal("EEG", s.global("kind"))
	s.Equal("0", s.global("second"))
	s.Equal("3", s.global("size"))
	s.Contains(s.global("bad_msg"), "nil invalid JSON payload")
}

func (s *HostTestSuite) TestArgumentValidation() {
	// numbers are coerced to strings by Lua, tables are not
	s.bridge.On("Connect", "42").Return(nil).Once()
	s.Require().NoError(s.engine.Execute(`muse.connect(42)`, "number-arg"))

	err := s.engine.Execute(`muse.connect({})`, "table-arg")

	s.Require().Error(err)
	s.Contains(err.Error(), "connect(name) expects a string argument #1")
	s.bridge.AssertExpectations(s.T())
}

func (s *HostTestSuite) TestUnboundBridge() {
	host := NewHost(s.engine, testutils.QuietLogger())
	host.Bind(nil)

	err := s.engine.Execute(`muse.start_listening()`, "unbound")

	s.Require().Error(err)
	s.Contains(err.Error(), "muse.start_listening: bridge not bound")
}

func TestHostTestSuite(t *testing.T) {
	suite.Run(t, new(HostTestSuite))
}
