// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jsx

// Tree-sitter node types shared by the javascript, typescript and tsx
// grammars. Traversal is done directly on nodes rather than with queries.
//
// Reference: https://github.com/tree-sitter/tree-sitter-javascript
const (
	// Top-level nodes
	NodeProgram      = "program"
	nodeHashBangLine = "hash_bang_line"
	nodeComment      = "comment"

	// Import-related nodes
	nodeImportStatement = "import_statement"
	nodeImportClause    = "import_clause"
	nodeNamespaceImport = "namespace_import"
	nodeNamedImports    = "named_imports"
	nodeImportSpecifier = "import_specifier"
	nodeExportStatement = "export_statement"
	nodeString          = "string"

	// JSX nodes
	NodeJSXAttribute       = "jsx_attribute"
	NodeJSXExpression      = "jsx_expression"
	nodePropertyIdentifier = "property_identifier"

	// Expressions
	NodeCallExpression      = "call_expression"
	NodeMemberExpression    = "member_expression"
	NodeArray               = "array"
	NodeNumber              = "number"
	NodeIdentifier          = "identifier"
	NodeTemplateString      = "template_string"
	nodeTemplateSubst       = "template_substitution"
	nodeExpressionStatement = "expression_statement"

	// Declarations
	nodeFunctionDeclaration          = "function_declaration"
	nodeGeneratorFunctionDeclaration = "generator_function_declaration"
	nodeClassDeclaration             = "class_declaration"
	nodeAbstractClassDeclaration     = "abstract_class_declaration"
	nodeEnumDeclaration              = "enum_declaration"
	nodeLexicalDeclaration           = "lexical_declaration"
	nodeVariableDeclaration          = "variable_declaration"
	nodeVariableDeclarator           = "variable_declarator"

	// Function-like scopes
	nodeFunctionExpression = "function_expression"
	nodeFunction           = "function"
	nodeGeneratorFunction  = "generator_function"
	nodeArrowFunction      = "arrow_function"
	nodeMethodDefinition   = "method_definition"
	nodeClass              = "class"

	// Block scopes
	nodeStatementBlock   = "statement_block"
	nodeClassStaticBlock = "class_static_block"
	nodeSwitchBody       = "switch_body"
	nodeCatchClause      = "catch_clause"
	nodeForStatement     = "for_statement"
	nodeForInStatement   = "for_in_statement"

	// Patterns
	nodeFormalParameters         = "formal_parameters"
	nodeRequiredParameter        = "required_parameter"
	nodeOptionalParameter        = "optional_parameter"
	nodeObjectPattern            = "object_pattern"
	nodeArrayPattern             = "array_pattern"
	nodePairPattern              = "pair_pattern"
	nodeAssignmentPattern        = "assignment_pattern"
	nodeObjectAssignmentPattern  = "object_assignment_pattern"
	nodeRestPattern              = "rest_pattern"
	nodeShorthandPropertyPattern = "shorthand_property_identifier_pattern"
)
