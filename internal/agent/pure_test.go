package agent

import (
	"strings"
	"testing"
)

func TestPureFromCSV(t *testing.T) {
	pure := pureFromCSV("Trade", "ticker,quantity,price\nAAPL,10,187.5")
	if !strings.HasPrefix(pure, "Class model::Trade") {
		t.Fatalf("类定义不符:\n%s", pure)
	}
	for _, prop := range []string{"ticker: String[1];", "quantity: String[1];", "price: String[1];"} {
		if !strings.Contains(pure, prop) {
			t.Fatalf("缺少属性 %q:\n%s", prop, pure)
		}
	}
}

func TestPureFromCSVEmpty(t *testing.T) {
	pure := pureFromCSV("Empty", "")
	if !strings.Contains(pure, "Class model::Empty") {
		t.Fatalf("空 CSV 应生成空类:\n%s", pure)
	}
}

func TestSQLToPureType(t *testing.T) {
	cases := map[string]string{
		"BIGINT":        "Integer",
		"DECIMAL(10,2)": "Float",
		"VARCHAR(255)":  "String",
		"DATE":          "StrictDate",
		"TIMESTAMP":     "DateTime",
		"DATETIME":      "DateTime",
		"BOOLEAN":       "Boolean",
		"BLOB":          "String",
	}
	for sqlType, want := range cases {
		if got := sqlToPureType(sqlType); got != want {
			t.Fatalf("sqlToPureType(%q) = %q, 期望 %q", sqlType, got, want)
		}
	}
}

func TestPureFromColumnsNullable(t *testing.T) {
	pure := pureFromColumns("Position", []pureColumn{
		{Name: "id", SQLType: "BIGINT", Nullable: false},
		{Name: "note", SQLType: "TEXT", Nullable: true},
	}, []string{"qtyPositive"})

	if !strings.Contains(pure, "id: Integer[1];") {
		t.Fatalf("非空列重数不符:\n%s", pure)
	}
	if !strings.Contains(pure, "note: String[0..1];") {
		t.Fatalf("可空列重数不符:\n%s", pure)
	}
	if !strings.Contains(pure, "constraint qtyPositive") {
		t.Fatalf("缺少约束:\n%s", pure)
	}
}

func TestEntitiesToPure(t *testing.T) {
	pure := entitiesToPure([]entityView{
		{
			ClassifierPath: classClassifier,
			Content: map[string]any{
				"name":    "Trade",
				"package": "model",
				"properties": []any{
					map[string]any{"name": "ticker", "type": "String"},
					map[string]any{
						"name": "legs", "type": "Leg",
						"multiplicity": map[string]any{"lowerBound": float64(0), "upperBound": "*"},
					},
				},
			},
		},
		{
			ClassifierPath: mappingClassifier,
			Content:        map[string]any{"name": "TradeMapping", "model": "Trade"},
		},
		{
			ClassifierPath: "meta::pure::something::Else",
			Content:        map[string]any{"name": "Ignored"},
		},
	})

	if !strings.Contains(pure, "Class model::Trade") {
		t.Fatalf("缺少类定义:\n%s", pure)
	}
	if !strings.Contains(pure, "legs: Leg[0..*];") {
		t.Fatalf("重数展开不符:\n%s", pure)
	}
	if !strings.Contains(pure, "Mapping mapping::TradeMapping") {
		t.Fatalf("缺少映射定义:\n%s", pure)
	}
	if strings.Contains(pure, "Ignored") {
		t.Fatalf("未知分类的实体应被跳过:\n%s", pure)
	}
}

func TestModelNameFromText(t *testing.T) {
	cases := map[string]string{
		"create a model for trades": "Trades",
		"new position model":        "Position",
		"":                          "Model",
		"create model 123":          "Model",
	}
	for text, want := range cases {
		if got := modelNameFromText(text); got != want {
			t.Fatalf("modelNameFromText(%q) = %q, 期望 %q", text, got, want)
		}
	}
}
