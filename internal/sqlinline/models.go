package sqlinline

const QSelectAIModel = `--sql 548a6132-ec1f-4e84-852b-b947238e4ddf
select model_id, coalesce(name, ''), credit_cost, cost_pro, cost_pro_5s, cost_pro_10s, coalesce(is_free_pro_5s, false)
from ai_models
where model_id = $1::text
limit 1;
`
