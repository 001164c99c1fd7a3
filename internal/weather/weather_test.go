package weather_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"stratolab.dev/sondetrack/internal/weather"
)

var _ = Describe("Client", func() {
	var ctx context.Context

	testLogger := slog.New(slog.NewTextHandler(io.Discard, nil))

	BeforeEach(func() {
		ctx = context.Background()
	})

	newClient := func(apiKey, baseURL string) *weather.Client {
		GinkgoHelper()

		client, err := weather.New(&weather.Config{
			Logger:  testLogger,
			APIKey:  apiKey,
			BaseURL: baseURL,
		})
		Expect(err).NotTo(HaveOccurred())
		return client
	}

	It("is disabled without an API key", func() {
		client := newClient("", "")
		_, err := client.CurrentConditions(ctx, 47.5, -122.0)
		Expect(err).To(MatchError(weather.ErrDisabled))
	})

	It("fetches and decodes current conditions", func() {
		provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			q := r.URL.Query()
			Expect(q.Get("apiKey")).To(Equal("test-key"))
			Expect(q.Get("geocode")).To(Equal(fmt.Sprintf("%f,%f", 47.5618, -122.0266)))
			Expect(q.Get("format")).To(Equal("json"))

			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"temperature":17.5,"pressure":1012.0,"humidity":48.0,"displayName":"Issaquah"}`)
		}))
		DeferCleanup(provider.Close)

		cond, err := newClient("test-key", provider.URL).CurrentConditions(ctx, 47.5618, -122.0266)
		Expect(err).NotTo(HaveOccurred())
		Expect(cond.Temperature).To(HaveValue(Equal(17.5)))
		Expect(cond.Pressure).To(HaveValue(Equal(1012.0)))
		Expect(cond.Humidity).To(HaveValue(Equal(48.0)))
		Expect(cond.LocationName).To(Equal("Issaquah"))
	})

	It("leaves omitted fields nil", func() {
		provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"temperature":17.5}`)
		}))
		DeferCleanup(provider.Close)

		cond, err := newClient("test-key", provider.URL).CurrentConditions(ctx, 47.5, -122.0)
		Expect(err).NotTo(HaveOccurred())
		Expect(cond.Pressure).To(BeNil())
		Expect(cond.Humidity).To(BeNil())
		Expect(cond.LocationName).To(BeEmpty())
	})

	It("fails on a non-200 provider response", func() {
		provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
		}))
		DeferCleanup(provider.Close)

		_, err := newClient("test-key", provider.URL).CurrentConditions(ctx, 47.5, -122.0)
		Expect(err).To(MatchError(ContainSubstring("status 429")))
	})

	It("fails on an unparseable provider response", func() {
		provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<html>maintenance</html>`)
		}))
		DeferCleanup(provider.Close)

		_, err := newClient("test-key", provider.URL).CurrentConditions(ctx, 47.5, -122.0)
		Expect(err).To(MatchError(ContainSubstring("decode conditions")))
	})
})
