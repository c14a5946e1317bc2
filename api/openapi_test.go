package api_test

import (
	"net/http"
	"os"
	"sort"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/docflow/api/handlers"
	"github.com/BaSui01/docflow/workflow"
)

// 文档中的路径与方法必须与运行时路由完全一致
func TestOpenAPIPathsMatchRuntimeRoutes(t *testing.T) {
	router := mux.NewRouter()
	handlers.NewHealthHandler(zap.NewNop()).Register(router, "dev", "", "")
	engine := workflow.NewEngine(workflow.NewMemoryRouteStore(), workflow.NewMemoryInstanceStore(),
		workflow.NewStaticRoleResolver(nil))
	handlers.NewWorkflowHandler(engine, zap.NewNop()).Register(router)

	runtime := make(map[string]struct{})
	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, err := route.GetPathTemplate()
		if err != nil {
			return nil
		}
		methods, err := route.GetMethods()
		if err != nil {
			// 子路由前缀本身没有方法
			return nil
		}
		for _, m := range methods {
			runtime[strings.ToUpper(m)+" "+path] = struct{}{}
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, sortedKeys(mustParseOpenAPI(t, "openapi.yaml")), sortedKeys(runtime))
}

func TestOpenAPIHealthPathsSkipAuth(t *testing.T) {
	doc := mustLoad(t, "openapi.yaml")
	for _, p := range handlers.HealthPaths {
		item, ok := doc.Paths[p]
		require.True(t, ok, p)
		node, ok := item[strings.ToLower(http.MethodGet)]
		require.True(t, ok, p)
		var op openAPIOperation
		require.NoError(t, node.Decode(&op))
		require.NotNil(t, op.Security, p)
		assert.Empty(t, *op.Security, p)
	}
}

type openAPIOperation struct {
	Security *[]map[string][]string `yaml:"security"`
}

type openAPIDoc struct {
	Paths map[string]map[string]yaml.Node `yaml:"paths"`
}

func mustLoad(t *testing.T, path string) openAPIDoc {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc openAPIDoc
	require.NoError(t, yaml.Unmarshal(data, &doc))
	return doc
}

func mustParseOpenAPI(t *testing.T, path string) map[string]struct{} {
	t.Helper()
	routes := make(map[string]struct{})
	for p, item := range mustLoad(t, path).Paths {
		for method := range item {
			if method == "parameters" {
				continue
			}
			routes[strings.ToUpper(method)+" "+p] = struct{}{}
		}
	}
	return routes
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
