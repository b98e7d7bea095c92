package optimizer

import (
	"github.com/cube2222/octoframe/logical"
)

type Transformers struct {
	NodeTransformer       func(node logical.Node) logical.Node
	ExpressionTransformer func(expr logical.Expression) logical.Expression
}

// TransformNode rebuilds the plan bottom-up. Children and expressions are transformed first,
// then the node is revalidated and handed to the NodeTransformer.
// If the rebuilt node doesn't validate, the original subtree is kept.
func (t *Transformers) TransformNode(node logical.Node) logical.Node {
	out := node
	if children := node.Children(); len(children) > 0 {
		newChildren := make([]logical.Node, len(children))
		for i := range children {
			newChildren[i] = t.TransformNode(children[i])
		}
		rebuilt, err := node.WithChildren(newChildren)
		if err != nil {
			return node
		}
		out = rebuilt
	}

	if t.ExpressionTransformer != nil {
		if exprs := out.Expressions(); len(exprs) > 0 {
			newExprs := make([]logical.Expression, len(exprs))
			for i := range exprs {
				newExprs[i] = t.TransformExpr(exprs[i])
			}
			rebuilt, err := out.WithExpressions(newExprs)
			if err != nil {
				return node
			}
			out = rebuilt
		}
	}

	if t.NodeTransformer != nil {
		out = t.NodeTransformer(out)
	}

	return out
}

func (t *Transformers) TransformExpr(expr logical.Expression) logical.Expression {
	if t.ExpressionTransformer == nil {
		return expr
	}
	return expr.Transform(t.ExpressionTransformer)
}
