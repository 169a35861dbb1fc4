// Package proto decodes binary message payloads against a directory of
// .proto files, picking the message type from the destination topic.
package proto

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"
	"github.com/jhump/protoreflect/dynamic"
)

// TypeField is the key under which decoded maps carry the message type name.
const TypeField = "__type"

// Decoder decodes payloads as any of the message types it loaded.
type Decoder struct {
	messageTypes map[string]*desc.MessageDescriptor
	allMessages  []*desc.MessageDescriptor
	// Warnings lists the .proto files that failed to parse.
	Warnings []string
}

// NewDecoder parses every .proto file under protoPath. Files that fail to
// parse are skipped and reported in Warnings.
func NewDecoder(protoPath string) (*Decoder, error) {
	var protoFiles []string
	err := filepath.WalkDir(protoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".proto") {
			relPath, err := filepath.Rel(protoPath, path)
			if err != nil {
				relPath = path
			}
			protoFiles = append(protoFiles, filepath.ToSlash(relPath))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk proto path: %w", err)
	}
	if len(protoFiles) == 0 {
		return nil, fmt.Errorf("no .proto files found in %s", protoPath)
	}

	parser := protoparse.Parser{
		ImportPaths:           []string{protoPath},
		IncludeSourceCodeInfo: true,
	}

	d := &Decoder{messageTypes: make(map[string]*desc.MessageDescriptor)}
	seen := make(map[string]bool)
	for _, pf := range protoFiles {
		fds, err := parser.ParseFiles(pf)
		if err != nil {
			d.Warnings = append(d.Warnings, fmt.Sprintf("%s: %v", pf, err))
			continue
		}
		for _, fd := range fds {
			for _, md := range fd.GetMessageTypes() {
				d.add(md, seen)
			}
		}
	}
	if len(d.allMessages) == 0 {
		return nil, fmt.Errorf("no message types could be loaded from %s: %s", protoPath, strings.Join(d.Warnings, "; "))
	}
	return d, nil
}

// add registers md and its nested types.
func (d *Decoder) add(md *desc.MessageDescriptor, seen map[string]bool) {
	fqn := md.GetFullyQualifiedName()
	if seen[fqn] {
		return
	}
	seen[fqn] = true
	d.messageTypes[md.GetName()] = md
	d.messageTypes[fqn] = md
	d.allMessages = append(d.allMessages, md)
	for _, nested := range md.GetNestedMessageTypes() {
		if !nested.IsMapEntry() {
			d.add(nested, seen)
		}
	}
}

// DecodeWithHint decodes data as the best fitting known type. A type named
// after the last two levels of destination is preferred; otherwise the type
// populating the most fields wins.
func (d *Decoder) DecodeWithHint(data []byte, destination string) (map[string]any, error) {
	if d == nil || len(d.allMessages) == 0 {
		return nil, fmt.Errorf("no message types loaded")
	}
	typeHint := topicToTypeHint(destination)

	var bestMatch *dynamic.Message
	var bestMatchName string
	bestScore := 0

	for _, md := range d.allMessages {
		msg := dynamic.NewMessage(md)
		if err := msg.Unmarshal(data); err != nil {
			continue
		}

		score := countPopulatedFields(msg)
		name := md.GetName()
		if typeHint != "" && strings.EqualFold(name, typeHint) {
			score += 1000
		}
		if score > bestScore {
			bestScore = score
			bestMatch = msg
			bestMatchName = name
		}
	}

	if bestMatch == nil {
		return nil, fmt.Errorf("could not decode with any known message type")
	}

	result := messageToMap(bestMatch)
	result[TypeField] = bestMatchName
	return result, nil
}

// DecodeAs decodes using a specific message type name.
func (d *Decoder) DecodeAs(data []byte, typeName string) (map[string]any, error) {
	md, ok := d.messageTypes[typeName]
	if !ok {
		return nil, fmt.Errorf("unknown message type: %s", typeName)
	}

	msg := dynamic.NewMessage(md)
	if err := msg.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal: %w", err)
	}

	result := messageToMap(msg)
	result[TypeField] = typeName
	return result, nil
}

// ListTypes returns the fully qualified names of all known types, sorted.
func (d *Decoder) ListTypes() []string {
	types := make([]string, 0, len(d.allMessages))
	for _, md := range d.allMessages {
		types = append(types, md.GetFullyQualifiedName())
	}
	slices.Sort(types)
	return types
}

// topicToTypeHint turns the last two topic levels into a type name:
// "shop/eu/order/shipped" and "shop.eu.order.shipped" give "OrderShipped".
func topicToTypeHint(topic string) string {
	parts := strings.FieldsFunc(topic, func(r rune) bool { return r == '/' || r == '.' })
	if len(parts) < 2 {
		return ""
	}
	return pascalCase(parts[len(parts)-2]) + pascalCase(parts[len(parts)-1])
}

// pascalCase converts "administrative_area" or "order-line" to
// "AdministrativeArea" / "OrderLine".
func pascalCase(s string) string {
	var b strings.Builder
	for _, word := range strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == '-' }) {
		r, size := utf8.DecodeRuneInString(word)
		b.WriteRune(unicode.ToUpper(r))
		b.WriteString(strings.ToLower(word[size:]))
	}
	return b.String()
}

func countPopulatedFields(msg *dynamic.Message) int {
	count := 0
	for _, fd := range msg.GetKnownFields() {
		if msg.HasField(fd) {
			count++
		}
	}
	return count
}

func messageToMap(msg *dynamic.Message) map[string]any {
	result := make(map[string]any)
	for _, fd := range msg.GetKnownFields() {
		if !msg.HasField(fd) {
			continue
		}
		result[fd.GetName()] = convertValue(msg.GetField(fd))
	}
	return result
}

func convertValue(val any) any {
	switch v := val.(type) {
	case *dynamic.Message:
		return messageToMap(v)
	case []byte:
		if utf8.Valid(v) && isPrintable(v) {
			return string(v)
		}
		return fmt.Sprintf("0x%x", v)
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = convertValue(item)
		}
		return result
	case map[any]any:
		result := make(map[string]any, len(v))
		for k, item := range v {
			result[fmt.Sprint(k)] = convertValue(item)
		}
		return result
	default:
		return v
	}
}

func isPrintable(data []byte) bool {
	for _, b := range data {
		if b < 32 && b != '\n' && b != '\r' && b != '\t' {
			return false
		}
	}
	return true
}
