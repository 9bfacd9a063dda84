package chunk

import "strings"

// rustSymbolTypes maps tree-sitter-rust top-level item node types onto
// SymbolKind. This is a one-to-one mapping: Rust's top-level item grammar
// already matches the taxonomy the data model wants.
var rustSymbolTypes = map[string]SymbolKind{
	"function_item": SymbolFunction,
	"struct_item":   SymbolStruct,
	"enum_item":     SymbolEnum,
	"trait_item":    SymbolTrait,
	"impl_item":     SymbolImpl,
	"const_item":    SymbolConst,
	"static_item":   SymbolStatic,
	"type_item":     SymbolTypeAlias,
}

const maxHeaderEntries = 5

// symbolNodeInfo pairs a parsed node with the metadata needed to build a chunk.
type symbolNodeInfo struct {
	node       *Node
	kind       SymbolKind
	name       string
	modulePath []string
}

// findSymbolNodes walks root, emitting one entry per top-level item and
// recursing into mod_item bodies with an extended module path. It does not
// descend into function bodies, impl bodies, etc. -- those are chunked
// whole, as a single unit.
func findSymbolNodes(root *Node, source []byte) []symbolNodeInfo {
	var out []symbolNodeInfo
	var walk func(n *Node, modulePath []string)
	walk = func(n *Node, modulePath []string) {
		for _, child := range n.Children {
			if child.Type == "mod_item" {
				name := extractIdentifierName(child, source)
				body := child.FindChildByType("declaration_list")
				out = append(out, symbolNodeInfo{
					node:       moduleHeaderNode(child, body),
					kind:       SymbolModule,
					name:       name,
					modulePath: modulePath,
				})
				if body != nil {
					nested := append(append([]string{}, modulePath...), name)
					walk(body, nested)
				}
				continue
			}

			kind, ok := rustSymbolTypes[child.Type]
			if !ok {
				continue
			}
			name := extractSymbolName(child, kind, source)
			if name == "" {
				continue
			}
			out = append(out, symbolNodeInfo{node: child, kind: kind, name: name, modulePath: modulePath})
		}
	}
	walk(root, nil)
	return out
}

// moduleHeaderNode returns a node covering just the `mod name { ... ` header
// (or the whole `mod name;` declaration when there is no inline body), so a
// Module chunk doesn't duplicate every nested item's content.
func moduleHeaderNode(modItem, body *Node) *Node {
	if body == nil {
		return modItem
	}
	return &Node{
		Type:       modItem.Type,
		StartByte:  modItem.StartByte,
		EndByte:    body.StartByte,
		StartPoint: modItem.StartPoint,
		EndPoint:   body.StartPoint,
	}
}

func extractIdentifierName(n *Node, source []byte) string {
	for _, c := range n.Children {
		if c.Type == "identifier" {
			return c.GetContent(source)
		}
	}
	return ""
}

func extractSymbolName(n *Node, kind SymbolKind, source []byte) string {
	switch kind {
	case SymbolFunction, SymbolConst, SymbolStatic:
		return extractIdentifierName(n, source)
	case SymbolImpl:
		// "impl Trait for Type { ... }" has two type_identifiers; the type
		// being implemented is the last one before the body.
		var last string
		for _, c := range n.Children {
			if c.Type == "type_identifier" || c.Type == "generic_type" {
				last = c.GetContent(source)
			}
		}
		return last
	default: // Struct, Enum, Trait, TypeAlias
		for _, c := range n.Children {
			if c.Type == "type_identifier" {
				return c.GetContent(source)
			}
		}
		return ""
	}
}

// extractDocComment scans backward from n's start line collecting
// contiguous `///` (or `//`) comment lines immediately preceding it.
func extractDocComment(n *Node, source []byte) string {
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}
	if lineStart <= 1 {
		return ""
	}

	var lines []string
	pos := lineStart - 1
	for pos > 0 {
		lineEnd := pos
		pos--
		for pos > 0 && source[pos] != '\n' {
			pos--
		}
		lineBegin := pos
		if pos > 0 {
			lineBegin++
		}
		line := strings.TrimSpace(string(source[lineBegin:lineEnd]))

		switch {
		case strings.HasPrefix(line, "///"):
			lines = append([]string{strings.TrimSpace(strings.TrimPrefix(line, "///"))}, lines...)
		case strings.HasPrefix(line, "//!"):
			lines = append([]string{strings.TrimSpace(strings.TrimPrefix(line, "//!"))}, lines...)
		case strings.HasPrefix(line, "//"):
			lines = append([]string{strings.TrimSpace(strings.TrimPrefix(line, "//"))}, lines...)
		case line == "":
			continue
		default:
			pos = 0 // stop: hit a non-comment, non-blank line
			continue
		}
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// extractImports returns the first K top-level use declarations, verbatim.
func extractImports(root *Node, source []byte, k int) []string {
	var out []string
	for _, n := range root.FindAllByType("use_declaration") {
		out = append(out, strings.TrimSpace(n.GetContent(source)))
		if len(out) >= k {
			break
		}
	}
	return out
}

// extractOutgoingCalls returns the first K call targets found within n's
// subtree: plain calls, method calls, and Type::assoc_fn calls.
func extractOutgoingCalls(n *Node, source []byte, k int) []string {
	var out []string
	for _, call := range n.FindAllByType("call_expression") {
		if len(call.Children) == 0 {
			continue
		}
		target := callTarget(call.Children[0], source)
		if target == "" {
			continue
		}
		out = append(out, target)
		if len(out) >= k {
			break
		}
	}
	return out
}

func callTarget(n *Node, source []byte) string {
	switch n.Type {
	case "identifier", "scoped_identifier":
		return n.GetContent(source)
	case "field_expression":
		// obj.method -> take the field identifier (method name)
		for _, c := range n.Children {
			if c.Type == "field_identifier" {
				return c.GetContent(source)
			}
		}
		return n.GetContent(source)
	default:
		return ""
	}
}
