package agent

import (
	"fmt"
	"strings"
)

// pureFromCSV 从 CSV 首行推导 PURE Class 定义, 所有列默认 String[1]。
func pureFromCSV(modelName, csvData string) string {
	lines := strings.Split(strings.TrimSpace(csvData), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return fmt.Sprintf("Class model::%s\n{\n}", modelName)
	}
	var props []string
	for _, header := range strings.Split(lines[0], ",") {
		name := strings.TrimSpace(header)
		if name == "" {
			continue
		}
		props = append(props, fmt.Sprintf("  %s: String[1];", name))
	}
	return fmt.Sprintf("Class model::%s\n{\n%s\n}", modelName, strings.Join(props, "\n"))
}

// pureColumn 描述一个数据库列。
type pureColumn struct {
	Name     string
	SQLType  string
	Nullable bool
}

// pureFromColumns 从数据库列定义生成 PURE Class, 可空列的重数为 [0..1]。
func pureFromColumns(modelName string, columns []pureColumn, constraints []string) string {
	var lines []string
	for _, col := range columns {
		mult := "[1]"
		if col.Nullable {
			mult = "[0..1]"
		}
		lines = append(lines, fmt.Sprintf("  %s: %s%s;", col.Name, sqlToPureType(col.SQLType), mult))
	}
	for _, c := range constraints {
		if line := constraintToPure(c); line != "" {
			lines = append(lines, line)
		}
	}
	return fmt.Sprintf("Class model::%s\n{\n%s\n}", modelName, strings.Join(lines, "\n"))
}

// sqlToPureType 把 SQL 列类型映射到 PURE 原始类型, 未识别的一律 String。
func sqlToPureType(sqlType string) string {
	upper := strings.ToUpper(sqlType)
	switch {
	case strings.Contains(upper, "INT"):
		return "Integer"
	case strings.Contains(upper, "DECIMAL"), strings.Contains(upper, "NUMERIC"):
		return "Float"
	case strings.Contains(upper, "VARCHAR"), strings.Contains(upper, "TEXT"):
		return "String"
	case strings.Contains(upper, "TIMESTAMP"), strings.Contains(upper, "DATETIME"):
		return "DateTime"
	case strings.Contains(upper, "DATE"):
		return "StrictDate"
	case strings.Contains(upper, "BOOL"):
		return "Boolean"
	default:
		return "String"
	}
}

// constraintToPure 把已知的约束名展开为 PURE constraint 语句。
func constraintToPure(name string) string {
	switch name {
	case "qtyPositive":
		return "  constraint qtyPositive: $this.quantity > 0;"
	case "validTicker":
		return "  constraint validTicker: $this.ticker->isNotEmpty();"
	case "notNull":
		return "  constraint notNull: $this.id->isNotEmpty();"
	default:
		return ""
	}
}

// pureMapping 生成映射骨架, 细节由后续评审补全。
func pureMapping(mappingName, modelName string) string {
	return fmt.Sprintf("Mapping mapping::%s\n(\n  *model::%s: Pure\n  {\n  }\n)", mappingName, modelName)
}

// entitiesToPure 把 SDLC 实体拼接为一段可编译的 PURE 文本。
// 只认识 Class 与 Mapping 两类, 其余实体跳过。
func entitiesToPure(entities []entityView) string {
	var parts []string
	for _, entity := range entities {
		switch {
		case strings.Contains(entity.ClassifierPath, "Class"):
			parts = append(parts, classToPure(entity.Content))
		case strings.Contains(entity.ClassifierPath, "Mapping"):
			name, _ := entity.Content["name"].(string)
			model, _ := entity.Content["model"].(string)
			if name == "" {
				name = "UnknownMapping"
			}
			parts = append(parts, pureMapping(name, model))
		}
	}
	return strings.Join(parts, "\n\n")
}

// entityView 是实体的最小投影, 避免 agent 依赖具体传输类型。
type entityView struct {
	Path           string
	ClassifierPath string
	Content        map[string]any
}

func classToPure(content map[string]any) string {
	name, _ := content["name"].(string)
	if name == "" {
		name = "UnknownClass"
	}
	pkg, _ := content["package"].(string)
	if pkg == "" {
		pkg = "model"
	}
	var lines []string
	if properties, ok := content["properties"].([]any); ok {
		for _, raw := range properties {
			prop, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			propName, _ := prop["name"].(string)
			propType, _ := prop["type"].(string)
			if propType == "" {
				propType = "String"
			}
			lines = append(lines, fmt.Sprintf("  %s: %s%s;", propName, propType, multiplicityOf(prop)))
		}
	}
	return fmt.Sprintf("Class %s::%s\n{\n%s\n}", pkg, name, strings.Join(lines, "\n"))
}

func multiplicityOf(prop map[string]any) string {
	mult, ok := prop["multiplicity"].(map[string]any)
	if !ok {
		return "[1]"
	}
	lower := boundOf(mult["lowerBound"], "1")
	upper := boundOf(mult["upperBound"], "1")
	if lower == upper {
		return "[" + lower + "]"
	}
	return "[" + lower + ".." + upper + "]"
}

func boundOf(value any, fallback string) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%d", int(v))
	case int:
		return fmt.Sprintf("%d", v)
	default:
		return fallback
	}
}
