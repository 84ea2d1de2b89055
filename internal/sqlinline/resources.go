package sqlinline

const QResourceGet = `--sql fbdd1c60-6352-4a18-8420-542d3af1be90
select id, ecosystem_key, model_type, nsfw
from model_versions
where id = $1;
`
