package relay

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const testSigningSecret = "8f742231b10e8888abcd99yyyzzz85a5"

// signRequest stamps a request the way Slack does: a timestamp header and
// an HMAC over "v0:<timestamp>:<body>".
func signRequest(req *http.Request, body []byte, secret string, at time.Time) {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", timestamp, body)
	req.Header.Set("X-Slack-Request-Timestamp", timestamp)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
}

var _ = Describe("Server", func() {
	var (
		gateway   *mockGateway
		submitter *mockSubmitter
		trackers  *mockTrackers
		journal   *mockJournal
		staging   *mockStorage
		timeSrc   *mockTimeSource
		server    *Server
		recorder  *httptest.ResponseRecorder
	)

	BeforeEach(func() {
		gateway = newMockGateway()
		submitter = newMockSubmitter()
		trackers = newMockTrackers()
		journal = newMockJournal()
		staging = newMockStorage()
		timeSrc = &mockTimeSource{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)}
		service := NewServiceWithDeps(gateway, submitter, trackers, journal, staging, timeSrc)
		server = NewServerWithDeps(service, journal, testSigningSecret, timeSrc, http.NewServeMux())
		recorder = httptest.NewRecorder()
	})

	Describe("POST /slack/events", func() {
		var (
			body []byte
			req  *http.Request
			sign func(*http.Request, []byte)
		)

		BeforeEach(func() {
			sign = func(r *http.Request, b []byte) {
				signRequest(r, b, testSigningSecret, timeSrc.now)
			}
		})

		JustBeforeEach(func() {
			req = httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewReader(body))
			sign(req, body)
			server.ServeHTTP(recorder, req)
		})

		When("Slack verifies the endpoint URL", func() {
			BeforeEach(func() {
				body = []byte(`{"type":"url_verification","challenge":"3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P"}`)
			})

			It("echoes the challenge", func() {
				Expect(recorder.Code).To(Equal(http.StatusOK))
				Expect(recorder.Body.String()).To(Equal("3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P"))
			})
		})

		When("the signature does not match", func() {
			BeforeEach(func() {
				body = []byte(`{"type":"event_callback"}`)
				sign = func(r *http.Request, b []byte) {
					signRequest(r, b, "wrong-secret", timeSrc.now)
				}
			})

			It("rejects the request", func() {
				Expect(recorder.Code).To(Equal(http.StatusUnauthorized))
			})
		})

		When("the signature headers are missing", func() {
			BeforeEach(func() {
				body = []byte(`{"type":"event_callback"}`)
				sign = func(r *http.Request, b []byte) {}
			})

			It("rejects the request", func() {
				Expect(recorder.Code).To(Equal(http.StatusUnauthorized))
			})
		})

		When("no signing secret is configured", func() {
			BeforeEach(func() {
				body = []byte(`{"type":"event_callback"}`)
				service := NewServiceWithDeps(gateway, submitter, trackers, journal, staging, timeSrc)
				server = NewServerWithDeps(service, journal, "", timeSrc, http.NewServeMux())
			})

			It("rejects every request instead of running open", func() {
				Expect(recorder.Code).To(Equal(http.StatusUnauthorized))
			})
		})

		When("the timestamp is stale", func() {
			BeforeEach(func() {
				body = []byte(`{"type":"event_callback"}`)
				sign = func(r *http.Request, b []byte) {
					signRequest(r, b, testSigningSecret, timeSrc.now.Add(-10*time.Minute))
				}
			})

			It("rejects the replay", func() {
				Expect(recorder.Code).To(Equal(http.StatusUnauthorized))
			})
		})

		When("a file-share message arrives", func() {
			BeforeEach(func() {
				gateway.files["F1"] = []byte("fake image data")
				body = []byte(`{
					"type": "event_callback",
					"event": {
						"type": "message",
						"channel": "C123",
						"ts": "1700000000.000100",
						"files": [{"id": "F1", "name": "receipt.png", "filetype": "png"}]
					}
				}`)
			})

			It("acks immediately", func() {
				Expect(recorder.Code).To(Equal(http.StatusOK))
			})

			It("processes the receipt in the background", func() {
				Eventually(func() *Submission {
					return journal.saved("receipt.png")
				}).ShouldNot(BeNil())
			})
		})

		When("a message carries no files", func() {
			BeforeEach(func() {
				body = []byte(`{
					"type": "event_callback",
					"event": {"type": "message", "channel": "C123", "ts": "1700000000.000100"}
				}`)
			})

			It("acks without dispatching", func() {
				Expect(recorder.Code).To(Equal(http.StatusOK))
				Consistently(func() ([]*Submission, error) {
					return journal.ListSubmissions()
				}, "100ms").Should(BeEmpty())
			})
		})

		When("the body is not JSON", func() {
			BeforeEach(func() {
				body = []byte("not json")
			})

			It("rejects the request", func() {
				Expect(recorder.Code).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("GET /api/history", func() {
		JustBeforeEach(func() {
			req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
			server.ServeHTTP(recorder, req)
		})

		When("submissions exist", func() {
			BeforeEach(func() {
				Expect(journal.SaveSubmission(&Submission{
					ExternalID:  "receipt.png",
					Filename:    "receipt.png",
					Channel:     "C123",
					SubmittedAt: timeSrc.now,
				})).To(Succeed())
			})

			It("returns them as JSON", func() {
				Expect(recorder.Code).To(Equal(http.StatusOK))
				Expect(recorder.Header().Get("Content-Type")).To(Equal("application/json"))

				var subs []*Submission
				Expect(json.Unmarshal(recorder.Body.Bytes(), &subs)).To(Succeed())
				Expect(subs).To(HaveLen(1))
				Expect(subs[0].ExternalID).To(Equal("receipt.png"))
			})
		})

		When("the journal fails", func() {
			BeforeEach(func() {
				journal.listErr = fmt.Errorf("database closed")
			})

			It("returns an internal server error", func() {
				Expect(recorder.Code).To(Equal(http.StatusInternalServerError))
			})
		})
	})
})
