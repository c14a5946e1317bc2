package workflow

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/BaSui01/docflow/types"
	"gopkg.in/yaml.v3"
)

// RouteFile YAML 路由定义文件
//
//	routes:
//	  - name: Academic approval
//	    document_type: academic
//	    is_active: true
//	    steps:
//	      - id: hod
//	        order: 1
//	        role_required: [hod]
//	        timeout_hours: 48
type RouteFile struct {
	Routes []*WorkflowRoute `yaml:"routes"`
}

// LoadRoutesFile 读取并解析路由定义文件
func LoadRoutesFile(path string) ([]*WorkflowRoute, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routes file: %w", err)
	}
	routes, err := ParseRoutes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return routes, nil
}

// ParseRoutes 解析 YAML 路由定义并逐个校验，未知字段视为错误。
func ParseRoutes(data []byte) ([]*WorkflowRoute, error) {
	var file RouteFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, types.NewError(types.ErrConfiguration, "failed to parse routes").WithCause(err)
	}

	names := make(map[string]struct{}, len(file.Routes))
	for i, r := range file.Routes {
		if r == nil {
			return nil, types.Errorf(types.ErrConfiguration, "route %d is empty", i)
		}
		if r.Type == "" {
			r.Type = RouteTypeSequential
		}
		if err := ValidateRoute(r); err != nil {
			msg := err.Error()
			if te, ok := types.AsError(err); ok {
				msg = te.Message
			}
			return nil, types.Errorf(types.ErrConfiguration, "route %d (%s): %s", i, r.Name, msg)
		}
		if _, dup := names[r.Name]; dup {
			return nil, types.Errorf(types.ErrConfiguration, "duplicate route name %q", r.Name)
		}
		names[r.Name] = struct{}{}
	}
	return file.Routes, nil
}
