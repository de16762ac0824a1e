package plan

import (
	"context"
	"testing"

	xerrors "Legend-Guardian/internal/errors"
)

func noopHandler(_ context.Context, _ map[string]any) (map[string]any, error) {
	return nil, nil
}

func TestNewRegistryValidation(t *testing.T) {
	if _, err := NewRegistry(nil); err == nil {
		t.Fatal("空表应被拒绝")
	}
	if _, err := NewRegistry(map[string]Handler{"": noopHandler}); err == nil {
		t.Fatal("空动作名应被拒绝")
	}
	if _, err := NewRegistry(map[string]Handler{"compile": nil}); err == nil {
		t.Fatal("nil 处理函数应被拒绝")
	}
}

func TestRegistryLookupAndActions(t *testing.T) {
	registry, err := NewRegistry(map[string]Handler{
		"compile":          noopHandler,
		"create_workspace": noopHandler,
	})
	if err != nil {
		t.Fatalf("构造失败: %v", err)
	}

	if _, ok := registry.Lookup("compile"); !ok {
		t.Fatal("应能查到已注册动作")
	}
	if _, ok := registry.Lookup("teleport"); ok {
		t.Fatal("未注册动作不应命中")
	}

	actions := registry.Actions()
	if len(actions) != 2 || actions[0] != "compile" || actions[1] != "create_workspace" {
		t.Fatalf("动作列表应按字典序: %v", actions)
	}
}

func TestRegistryValidatePlan(t *testing.T) {
	registry, err := NewRegistry(map[string]Handler{"compile": noopHandler})
	if err != nil {
		t.Fatalf("构造失败: %v", err)
	}

	if err := registry.Validate(&Plan{}); err == nil {
		t.Fatal("空计划应被拒绝")
	}
	err = registry.Validate(&Plan{Steps: []Step{{Action: "teleport"}}})
	if err == nil || xerrors.CodeOf(err) != xerrors.CodeUnknownAction {
		t.Fatalf("未注册动作应返回 UNKNOWN_ACTION: %v", err)
	}
	if err := registry.Validate(&Plan{Steps: []Step{{Action: "compile"}}}); err != nil {
		t.Fatalf("合法计划应通过: %v", err)
	}
}
