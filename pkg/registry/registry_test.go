package registry_test

import (
	"context"
	"net/http"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/hogwatch/hogwatch/pkg/registry"
	"github.com/hogwatch/hogwatch/pkg/registry/digest"
	"github.com/hogwatch/hogwatch/pkg/types"
)

const testDigest = "sha256:d68e1e532088964195ad3a0a71526bc2f11a78de0def85629beb75e2265f0547"

var _ = ginkgo.Describe("Hub client", func() {
	var server *ghttp.Server

	ginkgo.BeforeEach(func() {
		server = ghttp.NewServer()
	})

	ginkgo.AfterEach(func() {
		server.Close()
	})

	newClient := func() *registry.Client {
		return registry.NewClient(registry.Config{
			HubAPIURL:   server.URL(),
			RegistryURL: server.URL(),
			TokenURL:    server.URL() + "/token",
			Service:     "registry.docker.io",
		})
	}

	pageBody := func(names []string, next string) map[string]any {
		results := make([]map[string]string, 0, len(names))
		for _, name := range names {
			results = append(results, map[string]string{"name": name})
		}

		return map[string]any{"results": results, "next": next}
	}

	ginkgo.When("listing repositories", func() {
		ginkgo.It("follows next links until exhausted and issues one request per page", func() {
			secondPage := server.URL() + "/v2/repositories/myorg/?page=2"
			thirdPage := server.URL() + "/v2/repositories/myorg/?page=3"

			server.AppendHandlers(
				ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodGet, "/v2/repositories/myorg/", "page_size=100"),
					ghttp.RespondWithJSONEncoded(http.StatusOK, pageBody([]string{"app", "api"}, secondPage)),
				),
				ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodGet, "/v2/repositories/myorg/", "page=2"),
					ghttp.RespondWithJSONEncoded(http.StatusOK, pageBody([]string{"worker"}, thirdPage)),
				),
				ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodGet, "/v2/repositories/myorg/", "page=3"),
					ghttp.RespondWithJSONEncoded(http.StatusOK, pageBody([]string{"cron"}, "")),
				),
			)

			repos, err := newClient().ListRepositories(context.Background(), "myorg")

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(repos).To(gomega.Equal([]string{"app", "api", "worker", "cron"}))
			gomega.Expect(server.ReceivedRequests()).To(gomega.HaveLen(3))
		})

		ginkgo.It("returns partial results together with a transport error", func() {
			secondPage := server.URL() + "/v2/repositories/myorg/?page=2"

			server.AppendHandlers(
				ghttp.RespondWithJSONEncoded(http.StatusOK, pageBody([]string{"app"}, secondPage)),
				ghttp.RespondWith(http.StatusInternalServerError, "boom"),
			)

			repos, err := newClient().ListRepositories(context.Background(), "myorg")

			gomega.Expect(err).To(gomega.MatchError(registry.ErrTransport))
			gomega.Expect(repos).To(gomega.Equal([]string{"app"}))
		})
	})

	ginkgo.When("listing tags", func() {
		ginkgo.It("scopes the listing to one repository", func() {
			server.AppendHandlers(
				ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodGet, "/v2/repositories/myorg/app/tags/", "page_size=100"),
					ghttp.RespondWithJSONEncoded(http.StatusOK, pageBody([]string{"v1", "v2"}, "")),
				),
			)

			tags, err := newClient().ListTags(context.Background(), "myorg", "app")

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(tags).To(gomega.Equal([]string{"v1", "v2"}))
		})
	})

	ginkgo.When("resolving a digest", func() {
		ginkgo.It("exchanges for a token and reads the digest header", func() {
			server.AppendHandlers(
				ghttp.CombineHandlers(
					ghttp.VerifyRequest(
						http.MethodGet,
						"/token",
						"scope=repository%3Amyorg%2Fapp%3Apull&service=registry.docker.io",
					),
					ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]string{"token": "mock-token"}),
				),
				ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodHead, "/v2/myorg/app/manifests/v1"),
					ghttp.VerifyHeaderKV("Authorization", "Bearer mock-token"),
					ghttp.RespondWith(http.StatusOK, nil, http.Header{
						digest.ContentDigestHeader: []string{testDigest},
					}),
				),
			)

			resolved, err := newClient().ResolveDigest(context.Background(), "myorg", "app", "v1")

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(resolved).To(gomega.Equal(testDigest))
		})

		ginkgo.It("sends basic auth on the token request when credentials are configured", func() {
			client := registry.NewClient(registry.Config{
				HubAPIURL:   server.URL(),
				RegistryURL: server.URL(),
				TokenURL:    server.URL() + "/token",
				Service:     "registry.docker.io",
				Credentials: &types.RegistryCredentials{Username: "user", Password: "pass"},
			})

			server.AppendHandlers(
				ghttp.CombineHandlers(
					ghttp.VerifyBasicAuth("user", "pass"),
					ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]string{"token": "mock-token"}),
				),
				ghttp.RespondWith(http.StatusOK, nil, http.Header{
					digest.ContentDigestHeader: []string{testDigest},
				}),
			)

			_, err := client.ResolveDigest(context.Background(), "myorg", "app", "v1")

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
		})

		ginkgo.It("reports an unresolved digest when the token exchange fails", func() {
			server.AppendHandlers(
				ghttp.RespondWith(http.StatusUnauthorized, "nope"),
			)

			_, err := newClient().ResolveDigest(context.Background(), "myorg", "app", "v1")

			gomega.Expect(err).To(gomega.MatchError(digest.ErrDigestUnresolved))
		})

		ginkgo.It("reports an unresolved digest when the manifest request fails", func() {
			server.AppendHandlers(
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]string{"token": "mock-token"}),
				ghttp.RespondWith(http.StatusNotFound, "no such manifest"),
			)

			_, err := newClient().ResolveDigest(context.Background(), "myorg", "app", "v1")

			gomega.Expect(err).To(gomega.MatchError(digest.ErrDigestUnresolved))
		})

		ginkgo.It("rejects a malformed digest header", func() {
			server.AppendHandlers(
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]string{"token": "mock-token"}),
				ghttp.RespondWith(http.StatusOK, nil, http.Header{
					digest.ContentDigestHeader: []string{"not-a-digest"},
				}),
			)

			_, err := newClient().ResolveDigest(context.Background(), "myorg", "app", "v1")

			gomega.Expect(err).To(gomega.MatchError(digest.ErrDigestUnresolved))
		})
	})
})
